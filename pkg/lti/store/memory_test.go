// pkg/lti/store/memory_test.go
package store

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryConsumerCRUD(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	created, err := m.CreateConsumer(ctx, Consumer{Key: "k1", Name: "Canvas"},
		ConsumerKey{Key: "k1", Secret: "s1"})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if created.ID == 0 || created.CreatedAt.IsZero() {
		t.Errorf("created = %+v", created)
	}

	if _, err := m.CreateConsumer(ctx, Consumer{Key: "k1"}, ConsumerKey{Key: "k1"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate key: got %v", err)
	}

	byKey, err := m.GetConsumerByKey(ctx, "k1")
	if err != nil || byKey.ID != created.ID {
		t.Errorf("GetConsumerByKey = %+v, %v", byKey, err)
	}

	created.Name = "Canvas Prod"
	if err := m.UpdateConsumer(ctx, created); err != nil {
		t.Fatalf("UpdateConsumer: %v", err)
	}
	got, _ := m.GetConsumer(ctx, created.ID)
	if got.Name != "Canvas Prod" {
		t.Errorf("updated name = %q", got.Name)
	}
	if err := m.UpdateConsumer(ctx, Consumer{ID: 999}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: got %v", err)
	}

	if err := m.DeleteConsumer(ctx, created.ID); err != nil {
		t.Fatalf("DeleteConsumer: %v", err)
	}
	if _, err := m.GetConsumer(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted consumer lookup: got %v", err)
	}
	// The key row goes with the consumer.
	if _, err := m.GetConsumerKey(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key lookup: got %v", err)
	}
}

func TestMemoryFindConsumerByClient(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	if _, err := m.CreateConsumer(ctx, Consumer{Key: "k1", ClientID: "c1", DeploymentID: "d1"},
		ConsumerKey{Key: "k1"}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.FindConsumerByClient(ctx, "c1", "d1"); err != nil {
		t.Errorf("matching pair: %v", err)
	}
	if _, err := m.FindConsumerByClient(ctx, "c1", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("wrong deployment: got %v", err)
	}
}

func TestMemoryRotateConsumerKey(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()
	created, err := m.CreateConsumer(ctx, Consumer{Key: "old"}, ConsumerKey{Key: "old", Secret: "s"})
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := m.RotateConsumerKey(ctx, created.ID, ConsumerKey{Key: "new", Secret: "s2"})
	if err != nil {
		t.Fatalf("RotateConsumerKey: %v", err)
	}
	if rotated.Key != "new" {
		t.Errorf("rotated = %+v", rotated)
	}
	if _, err := m.GetConsumerKey(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old key lookup: got %v", err)
	}
	c, _ := m.GetConsumer(ctx, created.ID)
	if c.Key != "new" {
		t.Errorf("consumer key = %q", c.Key)
	}

	if _, err := m.RotateConsumerKey(ctx, 999, ConsumerKey{Key: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("rotate missing: got %v", err)
	}
}

func TestMemoryNonces(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	seen, err := m.HasNonce(ctx, "k", "n")
	if err != nil || seen {
		t.Fatalf("HasNonce before use = %v, %v", seen, err)
	}
	if err := m.UseNonce(ctx, "k", "n"); err != nil {
		t.Fatalf("UseNonce: %v", err)
	}
	if seen, _ = m.HasNonce(ctx, "k", "n"); !seen {
		t.Error("HasNonce after use = false")
	}
	if err := m.UseNonce(ctx, "k", "n"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("reused nonce: got %v", err)
	}
	// The same nonce under a different key is a different row.
	if err := m.UseNonce(ctx, "k2", "n"); err != nil {
		t.Errorf("other key: %v", err)
	}
}

func TestMemoryLogins(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	login := ConsumerLogin{Key: "k", State: "st", Nonce: "n", Iss: "https://p"}
	if err := m.CreateLogin(ctx, login); err != nil {
		t.Fatalf("CreateLogin: %v", err)
	}
	if err := m.CreateLogin(ctx, login); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate state: got %v", err)
	}

	got, err := m.ConsumeLogin(ctx, "st")
	if err != nil {
		t.Fatalf("ConsumeLogin: %v", err)
	}
	if got.Key != "k" || got.Nonce != "n" {
		t.Errorf("login = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
	// A login validates at most one launch.
	if _, err := m.ConsumeLogin(ctx, "st"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second consume: got %v", err)
	}
}

func TestMemoryProviderCRUD(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	created, err := m.CreateProvider(ctx, Provider{Key: "pk", Name: "Quiz Tool",
		Custom: map[string]string{"theme": "dark"}}, ProviderKey{Key: "pk", Secret: "ps"})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	byKey, err := m.GetProviderByKey(ctx, "pk")
	if err != nil || byKey.Custom["theme"] != "dark" {
		t.Errorf("GetProviderByKey = %+v, %v", byKey, err)
	}
	pk, err := m.GetProviderKey(ctx, "pk")
	if err != nil || pk.Secret != "ps" {
		t.Errorf("GetProviderKey = %+v, %v", pk, err)
	}

	if err := m.DeleteProvider(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProvider: %v", err)
	}
	if _, err := m.GetProviderKey(ctx, "pk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted provider key lookup: got %v", err)
	}
}

func TestMemoryDeleteExpired(t *testing.T) {
	m := NewMemory()
	ctx := t.Context()

	now := time.Unix(1700000000, 0).UTC()
	m.Now = func() time.Time { return now.Add(-time.Hour) }
	if err := m.UseNonce(ctx, "k", "old"); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateLogin(ctx, ConsumerLogin{State: "old-st"}); err != nil {
		t.Fatal(err)
	}

	m.Now = func() time.Time { return now }
	if err := m.UseNonce(ctx, "k", "fresh"); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateLogin(ctx, ConsumerLogin{State: "fresh-st"}); err != nil {
		t.Fatal(err)
	}

	nonces, logins, err := m.DeleteExpired(ctx, now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if nonces != 1 || logins != 1 {
		t.Fatalf("deleted %d nonces, %d logins; want 1, 1", nonces, logins)
	}

	if seen, _ := m.HasNonce(ctx, "k", "fresh"); !seen {
		t.Error("fresh nonce swept")
	}
	if seen, _ := m.HasNonce(ctx, "k", "old"); seen {
		t.Error("old nonce survived")
	}
	if _, err := m.ConsumeLogin(ctx, "fresh-st"); err != nil {
		t.Errorf("fresh login swept: %v", err)
	}
}
