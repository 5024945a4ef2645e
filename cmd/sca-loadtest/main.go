package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// approvingProvider approves every proof after an optional simulated round trip.
type approvingProvider struct {
	latency time.Duration
}

func (p approvingProvider) Initiate(ctx context.Context, req sca.ProofRequest) (sca.ProviderHandle, error) {
	if err := p.wait(ctx); err != nil {
		return sca.ProviderHandle{}, err
	}
	return sca.ProviderHandle{Handle: "lt-" + req.ChallengeID}, nil
}

func (p approvingProvider) Collect(ctx context.Context, _ sca.CollectRequest) (sca.ProviderResult, error) {
	if err := p.wait(ctx); err != nil {
		return sca.ProviderResult{}, err
	}
	return sca.ProviderResult{Outcome: sca.OutcomeApproved}, nil
}

func (p approvingProvider) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.latency):
		return nil
	}
}

type seededSubjects struct {
	profiles map[string]sca.SubjectProfile
}

func (s seededSubjects) Profile(_ context.Context, subjectID string) (sca.SubjectProfile, error) {
	p, ok := s.profiles[subjectID]
	if !ok {
		return sca.SubjectProfile{}, errors.New("unknown subject")
	}
	return p, nil
}

type emptyHistory struct{}

func (emptyHistory) AuthorizedSince(context.Context, string, time.Time) ([]sca.Transaction, error) {
	return nil, nil
}

func (emptyHistory) SuccessfulCount(context.Context, string, string) (int, error) {
	return 0, nil
}

type subjectState struct {
	id      string
	session string
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "challenges per run (initiate + validate + token check)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sca-lt", "store key prefix")
		latency     = flag.Duration("provider-latency", 0, "simulated provider round trip")
		amountFlag  = flag.String("amount", "750.00", "transaction amount")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid amount: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	fmt.Printf("seeding %d subjects...\n", *subjects)
	now := time.Now()
	states := make([]subjectState, *subjects)
	profiles := make(map[string]sca.SubjectProfile, *subjects)
	for i := range states {
		id := fmt.Sprintf("subj-%d", i)
		states[i] = subjectState{id: id, session: uuid.NewString()}
		profiles[id] = sca.SubjectProfile{
			SubjectID:         id,
			AccountCreatedAt:  now.Add(-2 * 365 * 24 * time.Hour),
			RiskScore:         0.1,
			RegisteredMethods: []sca.Method{sca.MethodMobileWallet},
		}
	}

	cfg := sca.DefaultConfig()
	cfg.Security.SigningKey = []byte(uuid.NewString() + uuid.NewString())
	cfg.Store.KeyPrefix = *prefix

	engine, err := sca.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProvider(sca.MethodMobileWallet, approvingProvider{latency: *latency}).
		WithSubjectProvider(seededSubjects{profiles: profiles}).
		WithTransactionHistory(emptyHistory{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	res := runPhases(ctx, engine, states, amount, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("initiate", res.initiate)
	printStats("validate", res.validate)
	printStats("token", res.token)
	fmt.Printf("exempted=%d\n", res.exempted)
}

type phaseResults struct {
	initiate phaseStats
	validate phaseStats
	token    phaseStats
	exempted int64
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
}

func (r *recorder) observe(d time.Duration, err error) {
	if err != nil {
		atomic.AddInt64(&r.failures, 1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

// runPhases drives every challenge through initiate, validate and token
// verification on the same worker, so each phase times real engine calls.
func runPhases(ctx context.Context, engine *sca.Engine, states []subjectState, amount decimal.Decimal, ops, concurrency int) phaseResults {
	var (
		wg       sync.WaitGroup
		cursor   int64
		exempted int64
		initRec  = &recorder{latencies: make([]time.Duration, 0, ops)}
		valRec   = &recorder{latencies: make([]time.Duration, 0, ops)}
		tokRec   = &recorder{latencies: make([]time.Duration, 0, ops)}
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				t0 := time.Now()
				ch, err := engine.Initiate(ctx, sca.InitiateRequest{
					SubjectID:      state.id,
					SessionID:      state.session,
					Amount:         amount,
					PaymentMethod:  "card",
					CounterpartyID: fmt.Sprintf("merchant-%d", i%97),
				})
				initRec.observe(time.Since(t0), err)
				if err != nil {
					continue
				}
				if ch.Status == sca.StatusExempted {
					atomic.AddInt64(&exempted, 1)
					continue
				}

				t0 = time.Now()
				res, err := engine.Validate(ctx, sca.ValidateRequest{ChallengeRef: sca.ChallengeRef{
					SubjectID:   ch.SubjectID,
					SessionID:   ch.SessionID,
					ChallengeID: ch.ID,
				}})
				valRec.observe(time.Since(t0), err)
				if err != nil || res.Token == nil {
					continue
				}

				t0 = time.Now()
				_, err = engine.ValidateTokenFor(ctx, res.Token.Token, state.id, state.session)
				tokRec.observe(time.Since(t0), err)
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	return phaseResults{
		initiate: computeStats(total, initRec.latencies, initRec.failures),
		validate: computeStats(total, valRec.latencies, valRec.failures),
		token:    computeStats(total, tokRec.latencies, tokRec.failures),
		exempted: exempted,
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
