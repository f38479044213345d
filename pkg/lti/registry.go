// pkg/lti/registry.go
package lti

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti/store"
)

/*
Provisioning for consumers (platforms launching into this tool) and
providers (tools this application launches out to).

Every consumer gets three pieces of key material at creation: an opaque
lookup key, an OAuth 1.0 shared secret, and an RSA keypair for LTI 1.3
tool tokens and the published JWKS. Key and secret are generated unless
the caller supplies them; the RSA pair is always generated. Creation and
rotation are single atomic store operations, so a consumer is never
observable without its key material.
*/

const rsaKeyBits = 4096

// Registry provisions consumer and provider records.
type Registry struct {
	Store  store.Store
	Log    *logrus.Logger
	Tokens TokenSource
}

func (g *Registry) token() string {
	if g.Tokens != nil {
		return g.Tokens.Token()
	}
	return CryptoTokenSource{}.Token()
}

func (g *Registry) log() *logrus.Entry { return ltilog.LTI(g.Log) }

// generateRSAPEM returns (publicPEM, privatePEM) for a fresh RSA keypair,
// public key in PKIX form and private key in PKCS#1 form.
func generateRSAPEM() (string, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("generating RSA key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("encoding RSA public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return string(pubPEM), string(privPEM), nil
}

// newConsumerMaterial fills in the consumer's key and builds its
// ConsumerKey row, generating key, secret and RSA material as needed.
func newConsumerMaterial(token func() string, c store.Consumer, key, secret string) (store.Consumer, store.ConsumerKey, error) {
	if key == "" {
		key = token()
	}
	if secret == "" {
		secret = token()
	}
	pubPEM, privPEM, err := generateRSAPEM()
	if err != nil {
		return store.Consumer{}, store.ConsumerKey{}, err
	}
	c.Key = key
	return c, store.ConsumerKey{
		Key:        key,
		Secret:     secret,
		PublicPEM:  pubPEM,
		PrivatePEM: privPEM,
	}, nil
}

// CreateConsumer provisions a consumer and its key material atomically.
// key and secret may be empty to have them generated.
func (g *Registry) CreateConsumer(ctx context.Context, c store.Consumer, key, secret string) (store.Consumer, store.ConsumerKey, error) {
	c, ck, err := newConsumerMaterial(g.token, c, key, secret)
	if err != nil {
		return store.Consumer{}, store.ConsumerKey{}, err
	}
	created, err := g.Store.CreateConsumer(ctx, c, ck)
	if err != nil {
		return store.Consumer{}, store.ConsumerKey{}, err
	}
	g.log().WithFields(logrus.Fields{"id": created.ID, "key": created.Key}).Info("created consumer " + created.Name)
	return created, ck, nil
}

// RotateConsumerSecret replaces the consumer's key material: new key, new
// secret (generated when empty), new RSA pair. The old key row is
// destroyed in the same operation, so tokens signed under the old kid
// stop verifying immediately.
func (g *Registry) RotateConsumerSecret(ctx context.Context, id int64, secret string) (store.ConsumerKey, error) {
	if secret == "" {
		secret = g.token()
	}
	pubPEM, privPEM, err := generateRSAPEM()
	if err != nil {
		return store.ConsumerKey{}, err
	}
	replacement := store.ConsumerKey{
		Key:        g.token(),
		Secret:     secret,
		PublicPEM:  pubPEM,
		PrivatePEM: privPEM,
	}
	rotated, err := g.Store.RotateConsumerKey(ctx, id, replacement)
	if err != nil {
		return store.ConsumerKey{}, err
	}
	g.log().WithFields(logrus.Fields{"id": id, "key": rotated.Key}).Info("rotated consumer key")
	return rotated, nil
}

// CreateProvider provisions a provider and its shared secret atomically.
func (g *Registry) CreateProvider(ctx context.Context, p store.Provider, key, secret string) (store.Provider, store.ProviderKey, error) {
	if key == "" {
		key = g.token()
	}
	if secret == "" {
		secret = g.token()
	}
	p.Key = key
	pk := store.ProviderKey{Key: key, Secret: secret}
	created, err := g.Store.CreateProvider(ctx, p, pk)
	if err != nil {
		return store.Provider{}, store.ProviderKey{}, err
	}
	g.log().WithFields(logrus.Fields{"id": created.ID, "key": created.Key}).Info("created provider " + created.Name)
	return created, pk, nil
}
