// pkg/lti/jwks.go
package lti

import (
	"context"
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// ConsumerJWKS renders the tool's public key set as a JWKS document. One
// RSA key per consumer, kid equal to the consumer key, so platforms can
// verify tool tokens (deep-link responses, client assertions) per tenant.
// Keys with unusable PEM material are skipped and logged rather than
// breaking the whole document.
func (e *OIDC) ConsumerJWKS(ctx context.Context) ([]byte, error) {
	keys, err := e.Consumers.ListConsumerKeys(ctx)
	if err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	for _, ck := range keys {
		if ck.PublicPEM == "" {
			continue
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(ck.PublicPEM))
		if err != nil {
			e.log().WithField("key", ck.Key).Warn("skipping consumer key with unusable public key")
			continue
		}
		k, err := jwk.Import(pub)
		if err != nil {
			e.log().WithField("key", ck.Key).Warn("skipping consumer key that failed JWK conversion")
			continue
		}
		_ = k.Set(jwk.KeyIDKey, ck.Key)
		_ = k.Set(jwk.AlgorithmKey, jwa.RS256())
		_ = k.Set(jwk.KeyUsageKey, "sig")
		if err := set.AddKey(k); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}
