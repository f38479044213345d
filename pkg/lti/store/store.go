// pkg/lti/store/store.go
package store

import (
	"context"
	"errors"
	"time"
)

/*
Persistence contract for the LTI trust engine.

The engine is stateless between requests except through this interface.
Implementations must provide:

  - atomic insert-if-absent for OauthNonce by (key, nonce) and for
    ConsumerLogin by state, so replay detection is race-free under
    concurrent requests carrying the same value
  - ConsumeLogin as an atomic fetch-and-delete, guaranteeing a login state
    validates at most one launch attempt
  - multi-row mutations (consumer create + key create, key rotation,
    provider create + key create) as single atomic units

Two implementations ship with the toolkit: Memory (dev/tests) and
sqlstore.Store (postgres/sqlite).
*/

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned by insert-if-absent operations when the row
	// already exists.
	ErrDuplicate = errors.New("store: duplicate")
)

// ConsumerStore manages Consumer rows and their key material.
type ConsumerStore interface {
	GetConsumer(ctx context.Context, id int64) (Consumer, error)
	GetConsumerByKey(ctx context.Context, key string) (Consumer, error)
	// FindConsumerByClient locates an LTI 1.3 consumer by its
	// (client_id, deployment_id) pair.
	FindConsumerByClient(ctx context.Context, clientID, deploymentID string) (Consumer, error)
	ListConsumers(ctx context.Context) ([]Consumer, error)

	// CreateConsumer persists the consumer and its key material atomically
	// and returns the stored consumer (with ID assigned).
	CreateConsumer(ctx context.Context, c Consumer, k ConsumerKey) (Consumer, error)
	UpdateConsumer(ctx context.Context, c Consumer) error
	// DeleteConsumer removes the consumer and its key atomically.
	DeleteConsumer(ctx context.Context, id int64) error

	GetConsumerKey(ctx context.Context, key string) (ConsumerKey, error)
	ListConsumerKeys(ctx context.Context) ([]ConsumerKey, error)
	// RotateConsumerKey atomically destroys the consumer's current key row,
	// stores the replacement, and updates the consumer's Key column.
	RotateConsumerKey(ctx context.Context, id int64, replacement ConsumerKey) (ConsumerKey, error)
}

// NonceStore provides replay protection for OAuth 1.0 nonces.
type NonceStore interface {
	// HasNonce reports whether (key, nonce) has been seen. Used for the
	// cheap pre-signature replay check.
	HasNonce(ctx context.Context, key, nonce string) (bool, error)
	// UseNonce inserts (key, nonce) if absent. ErrDuplicate means replay.
	// This is the authoritative, race-free check; it runs only after the
	// signature has been validated.
	UseNonce(ctx context.Context, key, nonce string) error
}

// LoginStore manages the single-use LTI 1.3 login state rows.
type LoginStore interface {
	// CreateLogin inserts the login state; ErrDuplicate if the state value
	// already exists.
	CreateLogin(ctx context.Context, l ConsumerLogin) error
	// ConsumeLogin returns the login for state and deletes it in the same
	// operation. ErrNotFound if the state is unknown (or already consumed).
	ConsumeLogin(ctx context.Context, state string) (ConsumerLogin, error)
}

// ProviderStore manages Provider rows and their shared secrets.
type ProviderStore interface {
	GetProvider(ctx context.Context, id int64) (Provider, error)
	GetProviderByKey(ctx context.Context, key string) (Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	CreateProvider(ctx context.Context, p Provider, k ProviderKey) (Provider, error)
	UpdateProvider(ctx context.Context, p Provider) error
	DeleteProvider(ctx context.Context, id int64) error
	GetProviderKey(ctx context.Context, key string) (ProviderKey, error)
}

// Sweeper removes expired nonce and login rows. Deletions are best-effort;
// an expired-but-not-yet-swept nonce still rejecting a replay is acceptable.
type Sweeper interface {
	// DeleteExpired removes OauthNonce and ConsumerLogin rows created
	// before the cutoff, returning the counts removed.
	DeleteExpired(ctx context.Context, before time.Time) (nonces, logins int64, err error)
}

// Store is the full contract the engine depends on.
type Store interface {
	ConsumerStore
	NonceStore
	LoginStore
	ProviderStore
	Sweeper
}
