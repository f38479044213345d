// pkg/lti/oauth1.go
package lti

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
OAuth 1.0 signing and verification for LTI 1.0/1.1.

Signatures follow RFC 5849: the base string is METHOD&URI&PARAMS with
RFC 3986 percent-encoding of each part, parameters sorted by encoded name
then encoded value, and HMAC-SHA1 keyed with secret+"&" (no token secret
in LTI). Only HMAC-SHA1 is supported; asking for anything else is a
configuration error, never a silent skip.

Replay protection is two-phase: a cheap existence check on (key, nonce)
before the signature is computed, then an atomic insert after the
signature has been validated, so a nonce is only ever persisted for a
request that proved possession of the secret.
*/

const (
	oauthSignatureMethod = "HMAC-SHA1"
	oauthCallbackValue   = "about:blank"

	// Inbound timestamps may sit up to 60s in the future (clock skew) and
	// up to 600s in the past.
	oauthClockSkew  = 60
	oauthWindowSecs = 600
)

// OAuth1 is the LTI 1.0/1.1 trust engine. All fields except the stores are
// optional; Now and Tokens default to real time and crypto randomness.
type OAuth1 struct {
	Consumers store.ConsumerStore
	Providers store.ProviderStore
	Nonces    store.NonceStore

	Log    *logrus.Logger
	Now    func() time.Time
	Tokens TokenSource
	HTTP   *http.Client
}

func (e *OAuth1) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *OAuth1) token() string {
	if e.Tokens != nil {
		return e.Tokens.Token()
	}
	return CryptoTokenSource{}.Token()
}

func (e *OAuth1) log() *logrus.Entry { return ltilog.LTI(e.Log) }

func (e *OAuth1) client() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

/* ------------------------------ signing ---------------------------------- */

// rfc3986 percent-encodes s, leaving only the unreserved characters
// (ALPHA / DIGIT / "-" / "." / "_" / "~") intact. This is stricter than
// url.QueryEscape, which passes characters OAuth requires encoded.
func rfc3986(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// normalizeParams encodes every name/value pair, sorts by encoded name and
// then encoded value, and joins them as name=value pairs with "&".
func normalizeParams(params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		ek := rfc3986(k)
		for _, v := range vs {
			pairs = append(pairs, pair{ek, rfc3986(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// signBaseURI strips the query and fragment from rawurl, keeping
// scheme://host/path as the signature base URI.
func signBaseURI(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", Validationf("invalid request URL %q", rawurl)
	}
	if !u.IsAbs() {
		return "", Validationf("request URL %q is not absolute", rawurl)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Sign computes the OAuth 1.0 signature for the given request. method names
// the signature method from the request being signed or verified; only
// HMAC-SHA1 is implemented and any other value is a hard error. params must
// not contain oauth_signature.
func Sign(method, httpMethod, rawurl string, params url.Values, secret string) (string, error) {
	if method != oauthSignatureMethod {
		return "", Configf("unsupported oauth_signature_method %q", method)
	}
	base, err := signBaseURI(rawurl)
	if err != nil {
		return "", err
	}
	baseString := strings.ToUpper(httpMethod) + "&" + rfc3986(base) + "&" + rfc3986(normalizeParams(params))
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// bodyHash returns base64(SHA1(body)) as used by oauth_body_hash.
func bodyHash(body []byte) string {
	sum := sha1.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func sigEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

/* ----------------------------- validation -------------------------------- */

// checkTimestamp rejects oauth_timestamp values more than 60s in the
// future or more than 600s in the past.
func checkTimestamp(raw string, now time.Time) error {
	if raw == "" {
		return Validationf("missing oauth_timestamp")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Validationf("invalid oauth_timestamp %q", raw)
	}
	n := now.Unix()
	if n+oauthClockSkew < ts {
		return Validationf("oauth_timestamp %d is in the future", ts)
	}
	if n > ts+oauthWindowSecs {
		return Validationf("oauth_timestamp %d is expired", ts)
	}
	return nil
}

// ValidateLaunch verifies an inbound LTI 1.0 launch POST. launchURL is the
// absolute URL the request was made to; params is the posted form. On
// success the matching consumer is returned and the nonce has been
// persisted.
func (e *OAuth1) ValidateLaunch(ctx context.Context, launchURL string, params url.Values) (store.Consumer, error) {
	get := params.Get
	if mt := get("lti_message_type"); mt != "basic-lti-launch-request" {
		return store.Consumer{}, Validationf("unexpected lti_message_type %q", mt)
	}
	if v := get("lti_version"); v != "LTI-1p0" {
		return store.Consumer{}, Validationf("unexpected lti_version %q", v)
	}
	if v := get("oauth_version"); v != "1.0" {
		return store.Consumer{}, Validationf("unexpected oauth_version %q", v)
	}
	if m := get("oauth_signature_method"); m != oauthSignatureMethod {
		return store.Consumer{}, Validationf("unexpected oauth_signature_method %q", m)
	}
	if cb := get("oauth_callback"); cb != oauthCallbackValue {
		return store.Consumer{}, Validationf("unexpected oauth_callback %q", cb)
	}
	key := get("oauth_consumer_key")
	if key == "" {
		return store.Consumer{}, Validationf("missing oauth_consumer_key")
	}
	sig := get("oauth_signature")
	if sig == "" {
		return store.Consumer{}, Validationf("missing oauth_signature")
	}
	if err := checkTimestamp(get("oauth_timestamp"), e.now()); err != nil {
		return store.Consumer{}, err
	}
	nonce := get("oauth_nonce")
	if nonce == "" {
		return store.Consumer{}, Validationf("missing oauth_nonce")
	}

	ck, err := e.Consumers.GetConsumerKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		e.log().WithField("key", key).Warn("launch from unknown consumer key")
		return store.Consumer{}, Trustf("unknown consumer key %q", key)
	} else if err != nil {
		return store.Consumer{}, err
	}

	seen, err := e.Nonces.HasNonce(ctx, key, nonce)
	if err != nil {
		return store.Consumer{}, err
	}
	if seen {
		e.log().WithFields(logrus.Fields{"key": key, "nonce": nonce}).Warn("replayed oauth nonce")
		return store.Consumer{}, Replayf("nonce %q already used for key %q", nonce, key)
	}

	signed := cloneValues(params)
	signed.Del("oauth_signature")
	want, err := Sign(oauthSignatureMethod, "POST", launchURL, signed, ck.Secret)
	if err != nil {
		return store.Consumer{}, err
	}
	if !sigEqual(want, sig) {
		e.log().WithField("key", key).Warn("oauth signature mismatch")
		return store.Consumer{}, Trustf("oauth signature mismatch for key %q", key)
	}

	// Signature proved possession of the secret; record the nonce. A race
	// with an identical request surfaces here as a duplicate.
	if err := e.Nonces.UseNonce(ctx, key, nonce); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Consumer{}, Replayf("nonce %q already used for key %q", nonce, key)
		}
		return store.Consumer{}, err
	}

	c, err := e.Consumers.GetConsumerByKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.Consumer{}, Trustf("no consumer registered for key %q", key)
	} else if err != nil {
		return store.Consumer{}, err
	}
	return c, nil
}

// parseOAuthHeader splits an `Authorization: OAuth a="b", c="d"` header
// into its percent-decoded parameters.
func parseOAuthHeader(h string) (url.Values, error) {
	const prefix = "OAuth "
	if !strings.HasPrefix(h, prefix) {
		return nil, Validationf("authorization header is not an OAuth header")
	}
	out := url.Values{}
	for _, part := range strings.Split(h[len(prefix):], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, Validationf("malformed oauth header segment %q", part)
		}
		v = strings.Trim(v, `"`)
		dv, err := url.PathUnescape(v)
		if err != nil {
			return nil, Validationf("malformed oauth header value %q", v)
		}
		if k == "realm" {
			continue
		}
		out.Set(k, dv)
	}
	return out, nil
}

// ValidateBodySignature verifies a body-signed POST (Basic Outcomes XML).
// authHeader is the raw Authorization value, body the unparsed request
// body, and requestURL the absolute URL posted to. The signing provider's
// key and secret are returned on success, after the nonce is persisted.
func (e *OAuth1) ValidateBodySignature(ctx context.Context, authHeader string, body []byte, requestURL string) (string, string, error) {
	params, err := parseOAuthHeader(authHeader)
	if err != nil {
		return "", "", err
	}
	key := params.Get("oauth_consumer_key")
	if key == "" {
		return "", "", Validationf("missing oauth_consumer_key")
	}
	if v := params.Get("oauth_version"); v != "1.0" {
		return "", "", Validationf("unexpected oauth_version %q", v)
	}
	if m := params.Get("oauth_signature_method"); m != oauthSignatureMethod {
		return "", "", Validationf("unexpected oauth_signature_method %q", m)
	}
	sig := params.Get("oauth_signature")
	if sig == "" {
		return "", "", Validationf("missing oauth_signature")
	}
	if err := checkTimestamp(params.Get("oauth_timestamp"), e.now()); err != nil {
		return "", "", err
	}
	nonce := params.Get("oauth_nonce")
	if nonce == "" {
		return "", "", Validationf("missing oauth_nonce")
	}
	if got, want := params.Get("oauth_body_hash"), bodyHash(body); got != want {
		return "", "", Trustf("oauth_body_hash mismatch")
	}

	pk, err := e.Providers.GetProviderKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		e.log().WithField("key", key).Warn("body-signed request from unknown key")
		return "", "", Trustf("unknown provider key %q", key)
	} else if err != nil {
		return "", "", err
	}

	seen, err := e.Nonces.HasNonce(ctx, key, nonce)
	if err != nil {
		return "", "", err
	}
	if seen {
		return "", "", Replayf("nonce %q already used for key %q", nonce, key)
	}

	signed := cloneValues(params)
	signed.Del("oauth_signature")
	want, err := Sign(oauthSignatureMethod, "POST", requestURL, signed, pk.Secret)
	if err != nil {
		return "", "", err
	}
	if !sigEqual(want, sig) {
		e.log().WithField("key", key).Warn("oauth body signature mismatch")
		return "", "", Trustf("oauth signature mismatch for key %q", key)
	}
	if err := e.Nonces.UseNonce(ctx, key, nonce); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", "", Replayf("nonce %q already used for key %q", nonce, key)
		}
		return "", "", err
	}
	return pk.Key, pk.Secret, nil
}

// SignBody builds the Authorization header for an outbound body-signed
// POST to targetURL. The header carries oauth_body_hash over body and an
// HMAC-SHA1 signature under secret.
func (e *OAuth1) SignBody(body []byte, key, secret, targetURL string) (string, error) {
	params := url.Values{}
	params.Set("oauth_consumer_key", key)
	params.Set("oauth_signature_method", oauthSignatureMethod)
	params.Set("oauth_version", "1.0")
	params.Set("oauth_body_hash", bodyHash(body))
	params.Set("oauth_timestamp", strconv.FormatInt(e.now().Unix(), 10))
	params.Set("oauth_nonce", e.token())

	sig, err := Sign(oauthSignatureMethod, "POST", targetURL, params, secret)
	if err != nil {
		return "", err
	}

	order := []string{
		"oauth_consumer_key", "oauth_signature_method", "oauth_version",
		"oauth_body_hash", "oauth_timestamp", "oauth_nonce",
	}
	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range order {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k + `="` + rfc3986(params.Get(k)) + `"`)
	}
	b.WriteString(`,oauth_signature="` + rfc3986(sig) + `"`)
	return b.String(), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
