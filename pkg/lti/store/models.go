// pkg/lti/store/models.go
package store

import "time"

// Consumer is a registered platform/LMS that launches into this tool.
// Key is the opaque lookup identity for both the OAuth 1.0 consumer key and
// the LTI 1.3 kid; it is unique and immutable except during explicit key
// rotation.
type Consumer struct {
	ID   int64
	Key  string
	Name string

	// LTI13 marks the consumer as an LTI 1.3 platform. The fields below are
	// only meaningful when it is set. ClientID/DeploymentID stay empty after
	// dynamic registration until the platform reports them back.
	LTI13        bool
	ClientID     string
	PlatformID   string // issuer
	DeploymentID string
	KeysetURL    string
	TokenURL     string
	AuthURL      string

	// Observed tool-consumer-info fields. Advisory: they may drift between
	// launches and drift is reconciled, never rejected.
	TCProduct string
	TCVersion string
	TCGUID    string
	TCName    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConsumerKey holds the secret material for a Consumer (1:1 via Key): the
// OAuth 1.0 shared secret plus the RSA keypair used to sign tool JWTs and
// back the published JWKS.
type ConsumerKey struct {
	Key        string
	Secret     string
	PublicPEM  string
	PrivatePEM string
}

// ConsumerLogin is the single-use state record created at LTI 1.3 login and
// consumed by the matching launch. Iss/ClientID/KeysetURL are captured from
// the consumer at login time so the launch is checked against that login's
// parameters even if the consumer row changes in between.
type ConsumerLogin struct {
	Key       string
	State     string
	Nonce     string
	Iss       string
	ClientID  string
	KeysetURL string
	CreatedAt time.Time
}

// OauthNonce records a used OAuth 1.0 nonce. Existence of a matching
// (Key, Nonce) row is conclusive proof of replay.
type OauthNonce struct {
	Key       string
	Nonce     string
	CreatedAt time.Time
}

// Provider is a registered tool, seen from the platform/consumer side of
// this library.
type Provider struct {
	ID         int64
	Key        string
	Name       string
	LaunchURL  string
	Domain     string
	LTI13      bool
	Custom     map[string]string
	UseSection bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderKey holds the OAuth 1.0 shared secret for signing outbound
// launches to a Provider (1:1 via Key).
type ProviderKey struct {
	Key    string
	Secret string
}
