// internal/config/config.go
package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string // external base, e.g. https://tool.edulinx.io

	DBDriver string // postgres|sqlite
	DBDSN    string

	LogLevel string

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string

	// Tool metadata presented to platforms at registration and launch.
	ToolTitle        string
	ToolDescription  string
	ToolIconURL      string
	ToolID           string
	ToolPrivacy      string // public|name_only|email_only|anonymous
	ToolNavigation   bool
	ToolContactEmail string
	ToolRoutePrefix  string
	ToolCustomParams map[string]string

	// Identity advertised when this application launches out to other tools.
	ProductName    string
	ProductVersion string
	DeploymentID   string
	DeploymentName string

	// Retention for nonces and pending logins.
	SweepRetention time.Duration
	SweepInterval  time.Duration
}

func FromEnv() Config {
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	if pub == "" {
		pub = "http://localhost:8080"
	}
	return Config{
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", "file:ltikit.db"),

		LogLevel: envOr("LOG_LEVEL", "info"),

		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: os.Getenv("ADMIN_PASS_HASH"),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000"),

		ToolTitle:        envOr("TOOL_TITLE", "EduLinx"),
		ToolDescription:  envOr("TOOL_DESCRIPTION", "EduLinx learning tool"),
		ToolIconURL:      envOr("TOOL_ICON_URL", pub+"/static/icon.png"),
		ToolID:           envOr("TOOL_ID", "edulinx"),
		ToolPrivacy:      envOr("TOOL_PRIVACY", "public"),
		ToolNavigation:   envBool("TOOL_NAVIGATION", false),
		ToolContactEmail: envOr("TOOL_CONTACT_EMAIL", "support@edulinx.io"),
		ToolRoutePrefix:  envOr("TOOL_ROUTE_PREFIX", "/lti"),
		ToolCustomParams: kvOr("TOOL_CUSTOM_PARAMS", ""),

		ProductName:    envOr("PRODUCT_NAME", "edulinx"),
		ProductVersion: envOr("PRODUCT_VERSION", "1.0"),
		DeploymentID:   envOr("DEPLOYMENT_ID", "1"),
		DeploymentName: envOr("DEPLOYMENT_NAME", "EduLinx"),

		SweepRetention: durOr("SWEEP_RETENTION", 15*time.Minute),
		SweepInterval:  durOr("SWEEP_INTERVAL", 5*time.Minute),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// kvOr parses "key=value,key2=value2" pairs.
func kvOr(k, def string) map[string]string {
	out := map[string]string{}
	for _, pair := range csvOr(k, def) {
		name, val, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		out[name] = val
	}
	return out
}

func durOr(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
