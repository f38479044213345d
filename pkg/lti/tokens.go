// pkg/lti/tokens.go
package lti

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenSource produces the random identifiers used throughout the engine:
// OAuth nonces, OIDC state values, JWT jti values, and generated consumer
// keys/secrets. Injecting it lets tests supply deterministic values.
type TokenSource interface {
	Token() string
}

// CryptoTokenSource is the production TokenSource: 16 random bytes,
// hex-encoded.
type CryptoTokenSource struct{}

func (CryptoTokenSource) Token() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// StaticTokenSource returns values from a fixed list, cycling when
// exhausted. Tests only.
type StaticTokenSource struct {
	Values []string
	i      int
}

func (s *StaticTokenSource) Token() string {
	if len(s.Values) == 0 {
		return "static-token"
	}
	v := s.Values[s.i%len(s.Values)]
	s.i++
	return v
}
