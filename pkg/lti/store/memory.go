// pkg/lti/store/memory.go
package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store for dev and tests. Safe for concurrent
// use. Not durable.
type Memory struct {
	mu sync.Mutex

	nextConsumerID int64
	nextProviderID int64

	consumers    map[int64]Consumer
	consumerKeys map[string]ConsumerKey
	logins       map[string]ConsumerLogin // state -> login
	nonces       map[[2]string]time.Time  // (key, nonce) -> created
	providers    map[int64]Provider
	providerKeys map[string]ProviderKey

	// Now can be overridden in tests.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		consumers:    make(map[int64]Consumer),
		consumerKeys: make(map[string]ConsumerKey),
		logins:       make(map[string]ConsumerLogin),
		nonces:       make(map[[2]string]time.Time),
		providers:    make(map[int64]Provider),
		providerKeys: make(map[string]ProviderKey),
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

/* ------------------------------ consumers -------------------------------- */

func (m *Memory) GetConsumer(_ context.Context, id int64) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumers[id]
	if !ok {
		return Consumer{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetConsumerByKey(_ context.Context, key string) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.consumers {
		if c.Key == key {
			return c, nil
		}
	}
	return Consumer{}, ErrNotFound
}

func (m *Memory) FindConsumerByClient(_ context.Context, clientID, deploymentID string) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.consumers {
		if c.ClientID == clientID && c.DeploymentID == deploymentID {
			return c, nil
		}
	}
	return Consumer{}, ErrNotFound
}

func (m *Memory) ListConsumers(_ context.Context) ([]Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) CreateConsumer(_ context.Context, c Consumer, k ConsumerKey) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.consumers {
		if existing.Key == c.Key {
			return Consumer{}, ErrDuplicate
		}
	}
	m.nextConsumerID++
	c.ID = m.nextConsumerID
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.consumers[c.ID] = c
	m.consumerKeys[k.Key] = k
	return c, nil
}

func (m *Memory) UpdateConsumer(_ context.Context, c Consumer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = m.now()
	m.consumers[c.ID] = c
	return nil
}

func (m *Memory) DeleteConsumer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumers[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.consumerKeys, c.Key)
	delete(m.consumers, id)
	return nil
}

func (m *Memory) GetConsumerKey(_ context.Context, key string) (ConsumerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.consumerKeys[key]
	if !ok {
		return ConsumerKey{}, ErrNotFound
	}
	return k, nil
}

func (m *Memory) ListConsumerKeys(_ context.Context) ([]ConsumerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConsumerKey, 0, len(m.consumerKeys))
	for _, k := range m.consumerKeys {
		out = append(out, k)
	}
	return out, nil
}

func (m *Memory) RotateConsumerKey(_ context.Context, id int64, replacement ConsumerKey) (ConsumerKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consumers[id]
	if !ok {
		return ConsumerKey{}, ErrNotFound
	}
	delete(m.consumerKeys, c.Key)
	c.Key = replacement.Key
	c.UpdatedAt = m.now()
	m.consumers[id] = c
	m.consumerKeys[replacement.Key] = replacement
	return replacement, nil
}

/* --------------------------- nonces & logins ------------------------------ */

func (m *Memory) HasNonce(_ context.Context, key, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nonces[[2]string{key, nonce}]
	return ok, nil
}

func (m *Memory) UseNonce(_ context.Context, key, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [2]string{key, nonce}
	if _, ok := m.nonces[k]; ok {
		return ErrDuplicate
	}
	m.nonces[k] = m.now()
	return nil
}

func (m *Memory) CreateLogin(_ context.Context, l ConsumerLogin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logins[l.State]; ok {
		return ErrDuplicate
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	m.logins[l.State] = l
	return nil
}

func (m *Memory) ConsumeLogin(_ context.Context, state string) (ConsumerLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logins[state]
	if !ok {
		return ConsumerLogin{}, ErrNotFound
	}
	delete(m.logins, state)
	return l, nil
}

/* ------------------------------ providers -------------------------------- */

func (m *Memory) GetProvider(_ context.Context, id int64) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return Provider{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetProviderByKey(_ context.Context, key string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.Key == key {
			return p, nil
		}
	}
	return Provider{}, ErrNotFound
}

func (m *Memory) ListProviders(_ context.Context) ([]Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) CreateProvider(_ context.Context, p Provider, k ProviderKey) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.providers {
		if existing.Key == p.Key {
			return Provider{}, ErrDuplicate
		}
	}
	m.nextProviderID++
	p.ID = m.nextProviderID
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.providers[p.ID] = p
	m.providerKeys[k.Key] = k
	return p, nil
}

func (m *Memory) UpdateProvider(_ context.Context, p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = m.now()
	m.providers[p.ID] = p
	return nil
}

func (m *Memory) DeleteProvider(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.providerKeys, p.Key)
	delete(m.providers, id)
	return nil
}

func (m *Memory) GetProviderKey(_ context.Context, key string) (ProviderKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.providerKeys[key]
	if !ok {
		return ProviderKey{}, ErrNotFound
	}
	return k, nil
}

/* ------------------------------- sweeping --------------------------------- */

func (m *Memory) DeleteExpired(_ context.Context, before time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nonces, logins int64
	for k, created := range m.nonces {
		if created.Before(before) {
			delete(m.nonces, k)
			nonces++
		}
	}
	for state, l := range m.logins {
		if l.CreatedAt.Before(before) {
			delete(m.logins, state)
			logins++
		}
	}
	return nonces, logins, nil
}

var _ Store = (*Memory)(nil)
