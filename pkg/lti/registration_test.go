// pkg/lti/registration_test.go
package lti

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

func TestPrivacyClaims(t *testing.T) {
	cases := map[string][]string{
		"public":     {"iss", "sub", "name", "given_name", "family_name", "email", "picture"},
		"name_only":  {"iss", "sub", "name"},
		"email_only": {"iss", "sub", "email"},
		"anonymous":  {"iss", "sub"},
		"":           {"iss", "sub"},
	}
	for level, want := range cases {
		if got := privacyClaims(level); !reflect.DeepEqual(got, want) {
			t.Errorf("privacyClaims(%q) = %v, want %v", level, got, want)
		}
	}
}

// platformConfigFor returns a valid config document rooted at base.
func platformConfigFor(base string) map[string]any {
	return map[string]any{
		"issuer":                 base,
		"registration_endpoint":  base + "/register",
		"authorization_endpoint": base + "/auth",
		"token_endpoint":         base + "/token",
		"jwks_uri":               base + "/jwks",
		platformConfigClaim: map[string]any{
			"product_family_code": "canvas",
			"version":             "1.0",
		},
	}
}

func configServer(t *testing.T, mutate func(map[string]any)) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := platformConfigFor(srv.URL)
		if mutate != nil {
			mutate(cfg)
		}
		_ = json.NewEncoder(w).Encode(cfg)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetLMSDetails(t *testing.T) {
	e, _ := newTestOIDC(t)
	srv := configServer(t, nil)

	cfg, err := e.GetLMSDetails(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("GetLMSDetails: %v", err)
	}
	if cfg.Issuer != srv.URL || cfg.RegistrationEndpoint != srv.URL+"/register" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Platform.ProductFamilyCode != "canvas" {
		t.Errorf("product family = %q", cfg.Platform.ProductFamilyCode)
	}
}

func TestGetLMSDetailsValidation(t *testing.T) {
	e, _ := newTestOIDC(t)

	if _, err := e.GetLMSDetails(t.Context(), ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty URL: got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"no registration endpoint", func(c map[string]any) { delete(c, "registration_endpoint") }},
		{"no issuer", func(c map[string]any) { delete(c, "issuer") }},
		{"registration outside issuer", func(c map[string]any) { c["registration_endpoint"] = "https://elsewhere.example.com/register" }},
		{"no auth endpoint", func(c map[string]any) { delete(c, "authorization_endpoint") }},
		{"no token endpoint", func(c map[string]any) { delete(c, "token_endpoint") }},
		{"no jwks", func(c map[string]any) { delete(c, "jwks_uri") }},
		{"no lti platform block", func(c map[string]any) { delete(c, platformConfigClaim) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := configServer(t, tc.mutate)
			if _, err := e.GetLMSDetails(t.Context(), srv.URL); !errors.Is(err, ErrUpstream) {
				t.Fatalf("got %v, want upstream error", err)
			}
		})
	}
}

func TestDynamicRegistration(t *testing.T) {
	e, st := newTestOIDC(t)
	e.Tool.HandleDeeplink = func(ctx context.Context, d *DeeplinkData, c store.Consumer, r *http.Request) (string, error) {
		return "", nil
	}

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(platformConfigFor(srv.URL))
	})

	var gotAuth string
	var gotPayload map[string]any
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_id": "assigned-client",
			toolConfigClaim: map[string]any{
				"deployment_id": "assigned-dep",
			},
		})
	})

	params := url.Values{}
	params.Set("openid_configuration", srv.URL+"/config")
	params.Set("registration_token", "reg-tok-1")

	consumer, err := e.DynamicRegistration(t.Context(), params)
	if err != nil {
		t.Fatalf("DynamicRegistration: %v", err)
	}
	if gotAuth != "Bearer reg-tok-1" {
		t.Errorf("registration auth = %q", gotAuth)
	}
	if consumer.ClientID != "assigned-client" || consumer.DeploymentID != "assigned-dep" {
		t.Errorf("consumer = %+v", consumer)
	}
	if !consumer.LTI13 || consumer.PlatformID != srv.URL {
		t.Errorf("consumer platform fields = %+v", consumer)
	}

	// The consumer row is persisted with the platform-assigned ids.
	stored, err := st.GetConsumerByKey(t.Context(), consumer.Key)
	if err != nil {
		t.Fatalf("stored consumer: %v", err)
	}
	if stored.ClientID != "assigned-client" || stored.DeploymentID != "assigned-dep" {
		t.Errorf("stored consumer = %+v", stored)
	}

	// Payload sanity: OIDC client shape plus the LTI tool configuration.
	if gotPayload["application_type"] != "web" {
		t.Errorf("application_type = %v", gotPayload["application_type"])
	}
	if gotPayload["token_endpoint_auth_method"] != "private_key_jwt" {
		t.Errorf("token_endpoint_auth_method = %v", gotPayload["token_endpoint_auth_method"])
	}
	if gotPayload["initiate_login_uri"] != e.Tool.LoginURL() {
		t.Errorf("initiate_login_uri = %v", gotPayload["initiate_login_uri"])
	}
	toolCfg, _ := gotPayload[toolConfigClaim].(map[string]any)
	if toolCfg == nil {
		t.Fatalf("payload missing tool configuration: %v", gotPayload)
	}
	if toolCfg["target_link_uri"] != e.Tool.LaunchURL() {
		t.Errorf("target_link_uri = %v", toolCfg["target_link_uri"])
	}
	messages, _ := toolCfg["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("expected one deep-linking message, got %v", toolCfg["messages"])
	}
}

func TestDynamicRegistrationPlatformRejects(t *testing.T) {
	e, _ := newTestOIDC(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(platformConfigFor(srv.URL))
	})
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registration disabled", http.StatusForbidden)
	})

	params := url.Values{}
	params.Set("openid_configuration", srv.URL+"/config")
	if _, err := e.DynamicRegistration(t.Context(), params); !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want upstream error", err)
	}
}

func TestBuildCartridgeXML(t *testing.T) {
	tool := testTool()
	tool.CustomParams = map[string]string{"theme": "dark", "a&b": "<x>"}
	tool.Navigation = true

	out := string(BuildCartridgeXML(tool))
	for _, want := range []string{
		"<blti:title>Test Tool</blti:title>",
		"<blti:launch_url>https://tool.example.com/lti/launch</blti:launch_url>",
		`<lticm:property name="tool_id">testtool</lticm:property>`,
		`<lticm:property name="privacy_level">public</lticm:property>`,
		`<lticm:property name="domain">tool.example.com</lticm:property>`,
		`<lticm:property name="theme">dark</lticm:property>`,
		`<lticm:property name="a&amp;b">&lt;x&gt;</lticm:property>`,
		`<lticm:options name="course_navigation">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("cartridge missing %q:\n%s", want, out)
		}
	}
}
