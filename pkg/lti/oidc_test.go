// pkg/lti/oidc_test.go
package lti

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

func newTestOIDC(t *testing.T) (*OIDC, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	e := &OIDC{
		Consumers: st,
		Logins:    st,
		Tool:      testTool(),
		Now:       fixedNow,
		Tokens:    &StaticTokenSource{Values: []string{"state-1", "nonce-1", "jti-1"}},
	}
	return e, st
}

func seedPlatformConsumer(t *testing.T, st *store.Memory) store.Consumer {
	t.Helper()
	c, err := st.CreateConsumer(t.Context(), store.Consumer{
		Key:          "ck13",
		Name:         "Canvas",
		LTI13:        true,
		ClientID:     "client-1",
		PlatformID:   "https://platform.example.com",
		DeploymentID: "dep-1",
		KeysetURL:    "https://platform.example.com/jwks",
		TokenURL:     "https://platform.example.com/token",
		AuthURL:      "https://platform.example.com/auth",
	}, store.ConsumerKey{Key: "ck13", Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

/* ------------------------------- login ------------------------------------ */

func loginParams(tool Tool) url.Values {
	p := url.Values{}
	p.Set("iss", "https://platform.example.com")
	p.Set("login_hint", "hint-1")
	p.Set("client_id", "client-1")
	p.Set("lti_deployment_id", "dep-1")
	p.Set("target_link_uri", tool.LaunchURL())
	p.Set("lti_message_hint", "mh-1")
	return p
}

func TestBuildLoginRequest(t *testing.T) {
	e, st := newTestOIDC(t)
	seedPlatformConsumer(t, st)

	red, err := e.BuildLoginRequest(t.Context(), loginParams(e.Tool))
	if err != nil {
		t.Fatalf("BuildLoginRequest: %v", err)
	}
	if red.URL != "https://platform.example.com/auth" {
		t.Errorf("auth URL = %q", red.URL)
	}
	f := red.Form
	checks := map[string]string{
		"scope":            "openid",
		"response_type":    "id_token",
		"response_mode":    "form_post",
		"prompt":           "none",
		"client_id":        "client-1",
		"redirect_uri":     e.Tool.LaunchURL(),
		"login_hint":       "hint-1",
		"state":            "state-1",
		"nonce":            "nonce-1",
		"lti_message_hint": "mh-1",
	}
	for k, want := range checks {
		if got := f.Get(k); got != want {
			t.Errorf("form[%s] = %q, want %q", k, got, want)
		}
	}

	// The login row must record what we trusted at login time.
	login, err := st.ConsumeLogin(t.Context(), "state-1")
	if err != nil {
		t.Fatalf("login row missing: %v", err)
	}
	if login.Key != "ck13" || login.Nonce != "nonce-1" ||
		login.Iss != "https://platform.example.com" ||
		login.ClientID != "client-1" || login.KeysetURL != "https://platform.example.com/jwks" {
		t.Errorf("login row = %+v", login)
	}
}

func TestBuildLoginRequestRejections(t *testing.T) {
	e, st := newTestOIDC(t)
	seedPlatformConsumer(t, st)

	cases := []struct {
		name   string
		mutate func(url.Values)
		kind   error
	}{
		{"unknown client", func(p url.Values) { p.Set("client_id", "nope") }, ErrTrust},
		{"unknown deployment", func(p url.Values) { p.Set("lti_deployment_id", "nope") }, ErrTrust},
		{"missing client_id", func(p url.Values) { p.Del("client_id") }, ErrValidation},
		{"missing iss", func(p url.Values) { p.Del("iss") }, ErrValidation},
		{"missing login_hint", func(p url.Values) { p.Del("login_hint") }, ErrValidation},
		{"wrong target", func(p url.Values) { p.Set("target_link_uri", "https://evil.example.com/launch") }, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := loginParams(e.Tool)
			tc.mutate(p)
			if _, err := e.BuildLoginRequest(t.Context(), p); !errors.Is(err, tc.kind) {
				t.Fatalf("got %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestBuildLoginRequestNoClientIDMatchesNothing(t *testing.T) {
	e, st := newTestOIDC(t)
	// An LTI 1.0 consumer has empty ClientID/DeploymentID columns. A login
	// carrying no client_id must not resolve against it.
	seedConsumer10(t, st, "ck10", "secret")

	p := url.Values{}
	p.Set("iss", "https://platform.example.com")
	p.Set("login_hint", "hint-1")
	p.Set("target_link_uri", e.Tool.LaunchURL())

	if _, err := e.BuildLoginRequest(t.Context(), p); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
	// No login state may be minted for the rejected request.
	if _, err := st.ConsumeLogin(t.Context(), "state-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("login row exists for rejected login: %v", err)
	}
}

/* ------------------------------- launch ----------------------------------- */

func launchClaims(nonce string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":               "https://platform.example.com",
		"aud":               "client-1",
		"sub":               "sub-1",
		"iat":               testNow.Unix(),
		"exp":               testNow.Add(5 * time.Minute).Unix(),
		"nonce":             nonce,
		ltiClaimMessageType: msgTypeResourceLink,
		ltiClaimVersion:     ltiVersion13,
	}
}

// seedLogin plants a pending login row pointing at the given JWKS URL.
func seedLogin(t *testing.T, st *store.Memory, state, nonce, keysetURL string) {
	t.Helper()
	err := st.CreateLogin(t.Context(), store.ConsumerLogin{
		Key:       "ck13",
		State:     state,
		Nonce:     nonce,
		Iss:       "https://platform.example.com",
		ClientID:  "client-1",
		KeysetURL: keysetURL,
		CreatedAt: testNow,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestVerifyLaunchToken(t *testing.T) {
	e, st := newTestOIDC(t)
	seedPlatformConsumer(t, st)
	platformKey, _, _ := genTestRSA(t)
	jwks := jwksServer(t, "platform-kid", &platformKey.PublicKey)
	seedLogin(t, st, "st-ok", "n-ok", jwks.URL)

	form := url.Values{}
	form.Set("state", "st-ok")
	form.Set("id_token", signPlatformToken(t, platformKey, "platform-kid", launchClaims("n-ok")))

	claims, err := e.VerifyLaunchToken(t.Context(), form)
	if err != nil {
		t.Fatalf("VerifyLaunchToken: %v", err)
	}
	if got, _ := claims["key"].(string); got != "ck13" {
		t.Errorf(`claims["key"] = %q`, got)
	}

	// The state is burned: the identical launch replays.
	if _, err := e.VerifyLaunchToken(t.Context(), form); !errors.Is(err, ErrReplay) {
		t.Fatalf("second launch: got %v, want replay error", err)
	}
}

func TestVerifyLaunchTokenRejections(t *testing.T) {
	e, st := newTestOIDC(t)
	seedPlatformConsumer(t, st)
	platformKey, _, _ := genTestRSA(t)
	strangerKey, _, _ := genTestRSA(t)
	jwks := jwksServer(t, "platform-kid", &platformKey.PublicKey)

	cases := []struct {
		name   string
		claims func() jwt.MapClaims
		signer *rsa.PrivateKey
		kid    string
		kind   error
	}{
		{"wrong audience", func() jwt.MapClaims {
			c := launchClaims("n-x")
			c["aud"] = "other-client"
			return c
		}, platformKey, "platform-kid", ErrTrust},
		{"wrong issuer", func() jwt.MapClaims {
			c := launchClaims("n-x")
			c["iss"] = "https://other.example.com"
			return c
		}, platformKey, "platform-kid", ErrTrust},
		{"expired", func() jwt.MapClaims {
			c := launchClaims("n-x")
			c["exp"] = testNow.Add(-time.Minute).Unix()
			return c
		}, platformKey, "platform-kid", ErrTrust},
		{"no expiry", func() jwt.MapClaims {
			c := launchClaims("n-x")
			delete(c, "exp")
			return c
		}, platformKey, "platform-kid", ErrTrust},
		{"wrong nonce", func() jwt.MapClaims {
			return launchClaims("some-other-nonce")
		}, platformKey, "platform-kid", ErrTrust},
		{"wrong signing key", func() jwt.MapClaims {
			return launchClaims("n-x")
		}, strangerKey, "platform-kid", ErrTrust},
		{"unknown kid", func() jwt.MapClaims {
			return launchClaims("n-x")
		}, platformKey, "other-kid", ErrTrust},
		{"bad message type", func() jwt.MapClaims {
			c := launchClaims("n-x")
			c[ltiClaimMessageType] = "LtiSubmissionReviewRequest"
			return c
		}, platformKey, "platform-kid", ErrValidation},
		{"bad version", func() jwt.MapClaims {
			c := launchClaims("n-x")
			c[ltiClaimVersion] = "1.1.0"
			return c
		}, platformKey, "platform-kid", ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := "st-rej-" + tc.name
			seedLogin(t, st, state, "n-x", jwks.URL)
			form := url.Values{}
			form.Set("state", state)
			form.Set("id_token", signPlatformToken(t, tc.signer, tc.kid, tc.claims()))
			if _, err := e.VerifyLaunchToken(t.Context(), form); !errors.Is(err, tc.kind) {
				t.Fatalf("got %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestVerifyLaunchTokenMissingFields(t *testing.T) {
	e, _ := newTestOIDC(t)
	form := url.Values{}
	if _, err := e.VerifyLaunchToken(t.Context(), form); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing state: got %v", err)
	}
	form.Set("state", "s")
	if _, err := e.VerifyLaunchToken(t.Context(), form); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing id_token: got %v", err)
	}
	form.Set("id_token", "x.y.z")
	if _, err := e.VerifyLaunchToken(t.Context(), form); !errors.Is(err, ErrReplay) {
		t.Fatalf("unknown state: got %v", err)
	}
}

/* --------------------------- token exchange ------------------------------- */

func TestGetAccessToken(t *testing.T) {
	e, st := newTestOIDC(t)
	consumer, toolKey := seedConsumer13(t, st, "ck13", store.Consumer{
		Name:       "Canvas",
		ClientID:   "client-1",
		PlatformID: "https://platform.example.com",
	})

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_ = json.NewEncoder(w).Encode(AccessToken{AccessToken: "tok-1", TokenType: "Bearer", ExpiresIn: 3600})
	}))
	defer srv.Close()
	consumer.TokenURL = srv.URL
	if err := st.UpdateConsumer(t.Context(), consumer); err != nil {
		t.Fatal(err)
	}

	tok, err := e.GetAccessToken(t.Context(), consumer, scopeAGSScore)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok.AccessToken != "tok-1" || tok.TokenType != "Bearer" {
		t.Errorf("token = %+v", tok)
	}

	if gotBody["grant_type"] != "client_credentials" {
		t.Errorf("grant_type = %v", gotBody["grant_type"])
	}
	if gotBody["client_assertion_type"] != clientAssertionJWT {
		t.Errorf("client_assertion_type = %v", gotBody["client_assertion_type"])
	}
	if gotBody["scopes"] != scopeAGSScore {
		t.Errorf("scopes = %v", gotBody["scopes"])
	}

	// The assertion verifies under the tool's key and carries the expected
	// subject and audience.
	assertion, _ := gotBody["client_assertion"].(string)
	parsed, err := jwt.Parse(assertion, func(tk *jwt.Token) (any, error) { return &toolKey.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(fixedNow))
	if err != nil {
		t.Fatalf("parsing client assertion: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "client-1" || claims["iss"] != "client-1" || claims["aud"] != srv.URL {
		t.Errorf("assertion claims = %+v", claims)
	}
	if kid, _ := parsed.Header["kid"].(string); kid != "ck13" {
		t.Errorf("assertion kid = %q", kid)
	}
}

func TestGetAccessTokenConfigChecks(t *testing.T) {
	e, _ := newTestOIDC(t)
	cases := []store.Consumer{
		{Key: "a", LTI13: false, ClientID: "c", TokenURL: "t", PlatformID: "p"},
		{Key: "b", LTI13: true, ClientID: "", TokenURL: "t", PlatformID: "p"},
		{Key: "c", LTI13: true, ClientID: "c", TokenURL: "", PlatformID: "p"},
		{Key: "d", LTI13: true, ClientID: "c", TokenURL: "t", PlatformID: ""},
	}
	for _, c := range cases {
		if _, err := e.GetAccessToken(t.Context(), c, scopeAGSScore); !errors.Is(err, ErrConfiguration) {
			t.Errorf("consumer %q: got %v, want configuration error", c.Key, err)
		}
	}
}

func TestGetAccessTokenUpstreamFailure(t *testing.T) {
	e, st := newTestOIDC(t)
	consumer, _ := seedConsumer13(t, st, "ck13", store.Consumer{
		Name:       "Canvas",
		ClientID:   "client-1",
		PlatformID: "https://platform.example.com",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	consumer.TokenURL = srv.URL

	if _, err := e.GetAccessToken(t.Context(), consumer, scopeAGSScore); !errors.Is(err, ErrUpstream) {
		t.Fatalf("got %v, want upstream error", err)
	}
}

func TestSignToolTokenUnknownKey(t *testing.T) {
	e, _ := newTestOIDC(t)
	if _, err := e.SignToolToken(t.Context(), "missing", jwt.MapClaims{}); !errors.Is(err, ErrTrust) {
		t.Fatalf("got %v, want trust error", err)
	}
}
