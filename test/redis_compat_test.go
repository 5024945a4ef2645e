//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

// TestRedisCompat_ChallengeLifecycle runs initiate, pending, approve and
// revoke against every configured backend.
func TestRedisCompat_ChallengeLifecycle(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, provider := newIntegrationEngine(t, rdb, "compat-life")
			ctx := context.Background()
			ch := initiateWallet(t, engine, "sess-life")

			provider.set(sca.OutcomePending)
			res, err := engine.Validate(ctx, sca.ValidateRequest{ChallengeRef: refOf(ch)})
			if !errors.Is(err, sca.ErrProofPending) {
				t.Fatalf("expected ErrProofPending, got %v", err)
			}
			if res.AttemptsRemaining != ch.MaxAttempts {
				t.Fatalf("pending outcome must not charge an attempt: remaining=%d", res.AttemptsRemaining)
			}

			provider.set(sca.OutcomeApproved)
			res, err = engine.Validate(ctx, sca.ValidateRequest{ChallengeRef: refOf(ch)})
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if res.Status != sca.StatusCompleted || res.Token == nil {
				t.Fatalf("expected COMPLETED with token, got %+v", res)
			}

			claims, err := engine.ValidateTokenFor(ctx, res.Token.Token, "s1", "sess-life")
			if err != nil {
				t.Fatalf("ValidateTokenFor: %v", err)
			}
			if claims.ID != res.Token.ID {
				t.Fatalf("claims id mismatch: %s vs %s", claims.ID, res.Token.ID)
			}

			if err := engine.RevokeToken(ctx, res.Token.Token); err != nil {
				t.Fatalf("RevokeToken: %v", err)
			}
			if _, err := engine.ValidateToken(ctx, res.Token.Token); !errors.Is(err, sca.ErrTokenRevoked) {
				t.Fatalf("expected ErrTokenRevoked, got %v", err)
			}
		})
	}
}

// TestRedisCompat_ConcurrentValidateSingleToken verifies that only one of
// many racing validations completes the challenge and receives a token.
func TestRedisCompat_ConcurrentValidateSingleToken(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, _ := newIntegrationEngine(t, rdb, "compat-race")
			ch := initiateWallet(t, engine, "sess-race")

			const workers = 16
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				tokens int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := engine.Validate(context.Background(), sca.ValidateRequest{ChallengeRef: refOf(ch)})
					if err != nil || res.Token == nil {
						return
					}
					mu.Lock()
					tokens++
					mu.Unlock()
				}()
			}
			wg.Wait()

			if tokens != 1 {
				t.Fatalf("expected exactly one token, got %d", tokens)
			}
			got, err := engine.GetChallenge(context.Background(), refOf(ch))
			if err != nil {
				t.Fatalf("GetChallenge: %v", err)
			}
			if got.Status != sca.StatusCompleted {
				t.Fatalf("expected COMPLETED, got %s", got.Status)
			}
		})
	}
}

// TestRedisCompat_AtomicIncrement validates the Lua window script across backends.
func TestRedisCompat_AtomicIncrement(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			st := store.NewRedis(rdb, "compat-rate")
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				c, err := st.AtomicIncrement(ctx, "k", 3, time.Minute)
				if err != nil {
					t.Fatalf("increment %d: %v", i, err)
				}
				if !c.Allowed || c.Count != int64(i) {
					t.Fatalf("increment %d: got %+v", i, c)
				}
			}

			c, err := st.AtomicIncrement(ctx, "k", 3, time.Minute)
			if err != nil {
				t.Fatalf("saturated increment: %v", err)
			}
			if c.Allowed || c.Count != 3 {
				t.Fatalf("counter must saturate at the limit, got %+v", c)
			}
			if c.ResetIn <= 0 || c.ResetIn > time.Minute {
				t.Fatalf("unexpected ResetIn %s", c.ResetIn)
			}
		})
	}
}

// TestRedisCompat_CompareAndSwap validates the CAS script across backends.
func TestRedisCompat_CompareAndSwap(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			st := store.NewRedis(rdb, "compat-cas")
			ctx := context.Background()

			if _, err := st.CompareAndSwap(ctx, "missing", []byte("a"), []byte("b"), time.Minute); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := st.SetWithTTL(ctx, "k", []byte("a"), time.Minute); err != nil {
				t.Fatalf("SetWithTTL: %v", err)
			}
			ok, err := st.CompareAndSwap(ctx, "k", []byte("x"), []byte("b"), time.Minute)
			if err != nil || ok {
				t.Fatalf("mismatched CAS must not swap: ok=%v err=%v", ok, err)
			}
			ok, err = st.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("matching CAS must swap: ok=%v err=%v", ok, err)
			}
			got, err := st.Get(ctx, "k")
			if err != nil || string(got) != "b" {
				t.Fatalf("expected b, got %q err=%v", got, err)
			}
		})
	}
}
