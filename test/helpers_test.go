//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

var integrationKey = []byte("integration-signing-key-0123456789")

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

type staticSubjects map[string]sca.SubjectProfile

func (s staticSubjects) Profile(_ context.Context, subjectID string) (sca.SubjectProfile, error) {
	p, ok := s[subjectID]
	if !ok {
		return sca.SubjectProfile{}, errors.New("unknown subject")
	}
	return p, nil
}

type noHistory struct{}

func (noHistory) AuthorizedSince(context.Context, string, time.Time) ([]sca.Transaction, error) {
	return nil, nil
}

func (noHistory) SuccessfulCount(context.Context, string, string) (int, error) { return 0, nil }

// scriptedProvider returns the configured outcome for every collect.
type scriptedProvider struct {
	mu      sync.Mutex
	outcome sca.ProviderOutcome
}

func (p *scriptedProvider) set(o sca.ProviderOutcome) {
	p.mu.Lock()
	p.outcome = o
	p.mu.Unlock()
}

func (p *scriptedProvider) Initiate(_ context.Context, req sca.ProofRequest) (sca.ProviderHandle, error) {
	return sca.ProviderHandle{Handle: "h-" + req.ChallengeID}, nil
}

func (p *scriptedProvider) Collect(context.Context, sca.CollectRequest) (sca.ProviderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sca.ProviderResult{Outcome: p.outcome}, nil
}

func walletProfile(subjectID string) sca.SubjectProfile {
	return sca.SubjectProfile{
		SubjectID:         subjectID,
		AccountCreatedAt:  time.Now().AddDate(-1, 0, 0),
		RiskScore:         0.1,
		RegisteredMethods: []sca.Method{sca.MethodMobileWallet},
	}
}

// newIntegrationEngine builds an engine on rdb with one wallet subject "s1".
func newIntegrationEngine(t *testing.T, rdb redis.UniversalClient, prefix string) (*sca.Engine, *scriptedProvider) {
	t.Helper()

	cfg := sca.DefaultConfig()
	cfg.Security.SigningKey = append([]byte(nil), integrationKey...)
	cfg.Store.KeyPrefix = prefix

	provider := &scriptedProvider{outcome: sca.OutcomeApproved}
	engine, err := sca.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(sca.MethodMobileWallet, provider).
		WithSubjectProvider(staticSubjects{"s1": walletProfile("s1")}).
		WithTransactionHistory(noHistory{}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, provider
}

func initiateWallet(t *testing.T, engine *sca.Engine, sessionID string) *sca.Challenge {
	t.Helper()
	ch, err := engine.Initiate(context.Background(), sca.InitiateRequest{
		SubjectID:     "s1",
		SessionID:     sessionID,
		Amount:        decimal.RequireFromString("900.00"),
		PaymentMethod: "card",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if ch.Status != sca.StatusPending {
		t.Fatalf("expected PENDING challenge, got %s", ch.Status)
	}
	return ch
}

func refOf(ch *sca.Challenge) sca.ChallengeRef {
	return sca.ChallengeRef{SubjectID: ch.SubjectID, SessionID: ch.SessionID, ChallengeID: ch.ID}
}

// cmdCounter is a go-redis Hook that counts the number of Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64 { return h.commands.Load() }
