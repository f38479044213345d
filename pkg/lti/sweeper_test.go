// pkg/lti/sweeper_test.go
package lti

import (
	"testing"
	"time"

	"github.com/edulinx/ltikit/pkg/lti/store"
)

func TestSweepOnce(t *testing.T) {
	st := store.NewMemory()
	ctx := t.Context()

	st.Now = func() time.Time { return testNow.Add(-time.Hour) }
	if err := st.UseNonce(ctx, "k", "old"); err != nil {
		t.Fatal(err)
	}
	st.Now = func() time.Time { return testNow }
	if err := st.UseNonce(ctx, "k", "fresh"); err != nil {
		t.Fatal(err)
	}

	s := &Sweeper{Store: st, Retention: 15 * time.Minute, Now: fixedNow}
	s.SweepOnce(ctx)

	if seen, _ := st.HasNonce(ctx, "k", "old"); seen {
		t.Error("expired nonce survived sweep")
	}
	if seen, _ := st.HasNonce(ctx, "k", "fresh"); !seen {
		t.Error("fresh nonce swept")
	}
}
