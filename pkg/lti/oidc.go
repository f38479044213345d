// pkg/lti/oidc.go
package lti

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
LTI 1.3 trust engine: OIDC third-party-initiated login, launch token
verification against the platform's JWKS, and the private_key_jwt token
exchange used by the service APIs.

The login and launch halves are tied together by a single-use
ConsumerLogin row. Login captures iss/client_id/keyset_url from the
resolved consumer so the launch is checked against what we trusted at
login time, not whatever the consumer row says later. The row is
consumed (fetched and deleted in one step) as soon as the launch names
it, so a state value never validates two launches no matter how the
remaining checks turn out.
*/

// OIDC is the LTI 1.3 engine. Consumers, Logins and Tool are required;
// the rest default like OAuth1's fields.
type OIDC struct {
	Consumers store.ConsumerStore
	Logins    store.LoginStore
	Tool      Tool

	Log    *logrus.Logger
	Now    func() time.Time
	Tokens TokenSource
	HTTP   *http.Client
}

func (e *OIDC) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *OIDC) token() string {
	if e.Tokens != nil {
		return e.Tokens.Token()
	}
	return CryptoTokenSource{}.Token()
}

func (e *OIDC) log() *logrus.Entry { return ltilog.LTI(e.Log) }

func (e *OIDC) client() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

/* ------------------------------- login ------------------------------------ */

// LoginRedirect is the auth request BuildLoginRequest hands back: a form
// to auto-POST to the platform's auth endpoint.
type LoginRedirect struct {
	URL  string
	Name string
	Form url.Values
}

// BuildLoginRequest validates an OIDC third-party-initiated login and
// returns the auth request to send back to the platform. params carries
// the merged query and body parameters.
func (e *OIDC) BuildLoginRequest(ctx context.Context, params url.Values) (*LoginRedirect, error) {
	if e.Tool.Domain == "" {
		return nil, Configf("tool domain is not configured")
	}
	clientID := params.Get("client_id")
	deploymentID := params.Get("lti_deployment_id")
	if clientID == "" {
		// An empty client_id would match LTI 1.0 consumers and rows whose
		// registration never completed; it never names a platform.
		return nil, Validationf("missing client_id")
	}

	consumer, err := e.Consumers.FindConsumerByClient(ctx, clientID, deploymentID)
	if errors.Is(err, store.ErrNotFound) {
		e.log().WithFields(logrus.Fields{"client_id": clientID, "deployment_id": deploymentID}).
			Warn("login from unknown platform")
		return nil, Trustf("no consumer for client_id %q deployment %q", clientID, deploymentID)
	} else if err != nil {
		return nil, err
	}

	if params.Get("iss") == "" {
		return nil, Validationf("missing iss")
	}
	if params.Get("login_hint") == "" {
		return nil, Validationf("missing login_hint")
	}
	if target := params.Get("target_link_uri"); target != e.Tool.LaunchURL() {
		return nil, Validationf("target_link_uri %q does not match launch endpoint", target)
	}

	state, nonce := e.token(), e.token()
	login := store.ConsumerLogin{
		Key:       consumer.Key,
		State:     state,
		Nonce:     nonce,
		Iss:       params.Get("iss"),
		ClientID:  consumer.ClientID,
		KeysetURL: consumer.KeysetURL,
		CreatedAt: e.now(),
	}
	if err := e.Logins.CreateLogin(ctx, login); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("scope", "openid")
	form.Set("response_type", "id_token")
	form.Set("client_id", consumer.ClientID)
	form.Set("redirect_uri", e.Tool.LaunchURL())
	form.Set("login_hint", params.Get("login_hint"))
	form.Set("state", state)
	form.Set("response_mode", "form_post")
	form.Set("nonce", nonce)
	form.Set("prompt", "none")
	if hint := params.Get("lti_message_hint"); hint != "" {
		form.Set("lti_message_hint", hint)
	}
	return &LoginRedirect{URL: consumer.AuthURL, Name: consumer.Name, Form: form}, nil
}

/* ------------------------------- launch ----------------------------------- */

// VerifyLaunchToken validates the id_token posted back by the platform and
// returns its claims with the consumer's stable key attached under "key".
// The login state named by the form is consumed before any token check, so
// a failed launch still burns its state.
func (e *OIDC) VerifyLaunchToken(ctx context.Context, form url.Values) (jwt.MapClaims, error) {
	state := form.Get("state")
	if state == "" {
		return nil, Validationf("missing state")
	}
	idToken := form.Get("id_token")
	if idToken == "" {
		return nil, Validationf("missing id_token")
	}

	login, err := e.Logins.ConsumeLogin(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		e.log().WithField("state", state).Warn("launch with unknown or reused state")
		return nil, Replayf("unknown or already used login state")
	} else if err != nil {
		return nil, err
	}

	set, err := jwk.Fetch(ctx, login.KeysetURL)
	if err != nil {
		return nil, WrapUpstream(err, "fetching keyset %s", login.KeysetURL)
	}

	parsed, err := jwt.Parse(idToken, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("id_token has no kid header")
		}
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("kid %q not in keyset", kid)
		}
		var pub rsa.PublicKey
		if err := jwk.Export(key, &pub); err != nil {
			return nil, fmt.Errorf("exporting key %q: %w", kid, err)
		}
		return &pub, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(login.ClientID),
		jwt.WithIssuer(login.Iss),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(e.now),
	)
	if err != nil {
		e.log().WithField("key", login.Key).Warn("id_token verification failed")
		return nil, Trustf("id_token verification failed: %v", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, Trustf("id_token carries no claims")
	}
	if nonce, _ := claims["nonce"].(string); nonce != login.Nonce {
		return nil, Trustf("id_token nonce mismatch")
	}

	mt, _ := claims[ltiClaimMessageType].(string)
	if mt != msgTypeResourceLink && mt != msgTypeDeepLink {
		return nil, Validationf("unsupported LTI message type %q", mt)
	}
	if v, _ := claims[ltiClaimVersion].(string); v != ltiVersion13 {
		return nil, Validationf("unsupported LTI version %q", v)
	}

	claims["key"] = login.Key
	return claims, nil
}

/* --------------------------- token exchange ------------------------------- */

// AccessToken is the platform's token-endpoint response.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// GetAccessToken exchanges a private_key_jwt client assertion for a
// platform access token with the given scope. Callers must treat an error
// as "no token": the grade post (or whatever needed the token) cannot
// proceed, but nothing else is affected.
func (e *OIDC) GetAccessToken(ctx context.Context, consumer store.Consumer, scope string) (*AccessToken, error) {
	switch {
	case !consumer.LTI13:
		return nil, Configf("consumer %q does not support LTI 1.3", consumer.Key)
	case consumer.ClientID == "":
		return nil, Configf("consumer %q has no client_id", consumer.Key)
	case consumer.TokenURL == "":
		return nil, Configf("consumer %q has no token_url", consumer.Key)
	case consumer.PlatformID == "":
		return nil, Configf("consumer %q has no platform_id", consumer.Key)
	}

	assertion, err := e.SignToolToken(ctx, consumer.Key, jwt.MapClaims{
		"sub": consumer.ClientID,
		"iss": consumer.ClientID,
		"aud": consumer.TokenURL,
		"jti": e.token(),
	})
	if err != nil {
		return nil, err
	}

	reqBody, _ := json.Marshal(map[string]any{
		"grant_type":            "client_credentials",
		"client_assertion_type": clientAssertionJWT,
		"client_assertion":      assertion,
		"scopes":                scope,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, consumer.TokenURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, WrapUpstream(err, "building token request for %s", consumer.TokenURL)
	}
	req.Header.Set("Content-Type", "application/json")

	e.log().WithField("url", consumer.TokenURL).Debug("requesting platform access token")
	resp, err := e.client().Do(req)
	if err != nil {
		e.log().WithField("url", consumer.TokenURL).Warn("token exchange failed")
		return nil, WrapUpstream(err, "token exchange with %s", consumer.TokenURL)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, Upstreamf(string(body), "token endpoint %s returned %s", consumer.TokenURL, resp.Status)
	}

	var tok AccessToken
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return nil, Upstreamf(string(body), "token endpoint %s returned no access token", consumer.TokenURL)
	}
	return &tok, nil
}

// SignToolToken signs claims as an RS256 JWT under the consumer key's
// private key with kid set to the consumer key and a one hour expiry.
func (e *OIDC) SignToolToken(ctx context.Context, consumerKey string, claims jwt.MapClaims) (string, error) {
	ck, err := e.Consumers.GetConsumerKey(ctx, consumerKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", Trustf("unknown consumer key %q", consumerKey)
	} else if err != nil {
		return "", err
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ck.PrivatePEM))
	if err != nil {
		return "", Configf("consumer key %q has an unusable private key: %v", consumerKey, err)
	}

	now := e.now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(time.Hour).Unix()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = consumerKey
	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("signing tool token: %w", err)
	}
	return signed, nil
}
