// pkg/lti/tool.go
package lti

import (
	"context"
	"net/http"
	"strings"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

// Tool is the embedding application's tool-side configuration: how the
// tool presents itself to platforms and where its LTI endpoints live.
// Domain is the absolute public base URL ("https://tool.example.com") and
// RoutePrefix the mount point of the LTI routes ("/lti/provider").
type Tool struct {
	Title        string
	Description  string
	IconURL      string
	ToolID       string
	PrivacyLevel string // public, name_only, email_only, anonymous
	CustomParams map[string]string
	Navigation   bool
	Domain       string
	RoutePrefix  string
	ContactEmail string

	// HandleLaunch receives every validated resource-link launch and
	// returns the URL to redirect the browser to. HandleDeeplink does the
	// same for deep-linking launches; leaving it nil also disables the
	// deep-linking placement during dynamic registration.
	HandleLaunch   func(ctx context.Context, launch *LaunchData, c store.Consumer, r *http.Request) (string, error)
	HandleDeeplink func(ctx context.Context, deeplink *DeeplinkData, c store.Consumer, r *http.Request) (string, error)
}

func (t Tool) route(suffix string) string {
	return strings.TrimRight(t.Domain, "/") + t.RoutePrefix + suffix
}

// LaunchURL is the tool's launch endpoint; it doubles as the OIDC
// redirect URI and the registered target_link_uri.
func (t Tool) LaunchURL() string { return t.route("/launch") }

// LoginURL is the OIDC third-party-initiated-login endpoint.
func (t Tool) LoginURL() string { return t.route("/login") }

// JWKSURL is where the tool publishes its public keys.
func (t Tool) JWKSURL() string { return t.route("/jwks") }

// BareDomain is Domain without its scheme, as required by the Canvas
// extension blocks and the tool-configuration "domain" member.
func (t Tool) BareDomain() string {
	d := strings.TrimPrefix(t.Domain, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// DeeplinkEnabled reports whether the deep-linking placement is active.
func (t Tool) DeeplinkEnabled() bool { return t.HandleDeeplink != nil }
