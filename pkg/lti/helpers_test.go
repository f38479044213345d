// pkg/lti/helpers_test.go
package lti

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

var testNow = time.Unix(1700000000, 0).UTC()

func fixedNow() time.Time { return testNow }

// genTestRSA returns a small RSA key with its PEM encodings. Tests use
// 2048 bits to keep key generation fast.
func genTestRSA(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating test RSA key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encoding test public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return priv, string(pubPEM), string(privPEM)
}

// jwksServer serves a single-key JWKS for the given public key under kid.
func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	k, err := jwk.Import(pub)
	if err != nil {
		t.Fatalf("importing test key: %v", err)
	}
	_ = k.Set(jwk.KeyIDKey, kid)
	set := jwk.NewSet()
	if err := set.AddKey(k); err != nil {
		t.Fatalf("building test keyset: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshalling test keyset: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// signPlatformToken signs claims the way a platform signs an id_token.
func signPlatformToken(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("signing test id_token: %v", err)
	}
	return signed
}

// seedConsumer10 registers an LTI 1.0 consumer with a shared secret.
func seedConsumer10(t *testing.T, st *store.Memory, key, secret string) store.Consumer {
	t.Helper()
	c, err := st.CreateConsumer(t.Context(), store.Consumer{Key: key, Name: "Test LMS"},
		store.ConsumerKey{Key: key, Secret: secret})
	if err != nil {
		t.Fatalf("seeding consumer: %v", err)
	}
	return c
}

// seedConsumer13 registers an LTI 1.3 consumer with RSA key material and
// returns the consumer together with the tool's private key.
func seedConsumer13(t *testing.T, st *store.Memory, key string, c store.Consumer) (store.Consumer, *rsa.PrivateKey) {
	t.Helper()
	priv, pubPEM, privPEM := genTestRSA(t)
	c.Key = key
	c.LTI13 = true
	created, err := st.CreateConsumer(t.Context(), c,
		store.ConsumerKey{Key: key, Secret: "s3cret", PublicPEM: pubPEM, PrivatePEM: privPEM})
	if err != nil {
		t.Fatalf("seeding consumer: %v", err)
	}
	return created, priv
}

func seedProvider(t *testing.T, st *store.Memory, key, secret string, p store.Provider) store.Provider {
	t.Helper()
	p.Key = key
	created, err := st.CreateProvider(t.Context(), p, store.ProviderKey{Key: key, Secret: secret})
	if err != nil {
		t.Fatalf("seeding provider: %v", err)
	}
	return created
}

func testTool() Tool {
	return Tool{
		Title:        "Test Tool",
		Description:  "A tool under test",
		IconURL:      "https://tool.example.com/icon.png",
		ToolID:       "testtool",
		PrivacyLevel: "public",
		Domain:       "https://tool.example.com",
		RoutePrefix:  "/lti",
		ContactEmail: "support@tool.example.com",
	}
}
