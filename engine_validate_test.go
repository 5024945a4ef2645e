package sca

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

func validate(env *testEnv, ch *Challenge, proof Proof) (*ValidateResult, error) {
	return env.engine.Validate(context.Background(), ValidateRequest{ChallengeRef: ref(ch), Proof: proof})
}

func TestValidatePushApprovedIssuesTokenOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	res, err := validate(env, ch, Proof{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Token == nil || res.AlreadyCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Token.SubjectID != "s1" || res.Token.SessionID != "sess1" {
		t.Fatalf("token bound to wrong subject %+v", res.Token)
	}
	if _, err := env.engine.ValidateTokenFor(context.Background(), res.Token.Token, "s1", "sess1"); err != nil {
		t.Fatalf("issued token should validate: %v", err)
	}

	again, err := validate(env, ch, Proof{})
	if err != nil {
		t.Fatalf("second Validate failed: %v", err)
	}
	if again.Status != StatusCompleted || !again.AlreadyCompleted || again.Token != nil {
		t.Fatalf("expected stable AlreadyCompleted without token, got %+v", again)
	}
	if env.identity.collects != 1 {
		t.Fatalf("expected one provider collect, got %d", env.identity.collects)
	}

	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.Status != StatusCompleted || stored.CompletedAt == nil || stored.AttemptCount != 1 {
		t.Fatalf("unexpected stored challenge %+v", stored)
	}
	if env.engine.Metrics().Value(MetricChallengeCompleted) != 1 || env.engine.Metrics().Value(MetricChallengeAlreadyCompleted) != 1 {
		t.Fatal("unexpected completion metrics")
	}
}

func TestValidateRejectedExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.identity.outcome = OutcomeRejected
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	for i, wantRemaining := range []int{2, 1} {
		res, err := validate(env, ch, Proof{})
		if !errors.Is(err, ErrProofInvalid) {
			t.Fatalf("attempt %d: expected ErrProofInvalid, got %v", i+1, err)
		}
		if res.Status != StatusPending || res.AttemptsRemaining != wantRemaining {
			t.Fatalf("attempt %d: unexpected result %+v", i+1, res)
		}
	}

	res, err := validate(env, ch, Proof{})
	if !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("final attempt: expected ErrProofInvalid, got %v", err)
	}
	if res.Status != StatusFailed || res.AttemptsRemaining != 0 {
		t.Fatalf("final attempt: expected FAILED, got %+v", res)
	}

	env.identity.setOutcome(OutcomeApproved)
	for i := 0; i < 2; i++ {
		res, err = validate(env, ch, Proof{})
		if !errors.Is(err, ErrChallengeAttemptsExceeded) {
			t.Fatalf("expected ErrChallengeAttemptsExceeded, got %v", err)
		}
		if res == nil || res.Status != StatusFailed || res.Token != nil {
			t.Fatalf("expected FAILED without token, got %+v", res)
		}
	}
	if env.identity.collects != 3 {
		t.Fatalf("expected 3 provider collects, got %d", env.identity.collects)
	}
	if env.engine.Metrics().Value(MetricChallengeFailed) != 1 {
		t.Fatal("expected one failed challenge metric")
	}
}

func TestValidatePendingRefundsAttempt(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.identity.outcome = OutcomePending
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	for i := 0; i < 5; i++ {
		res, err := validate(env, ch, Proof{})
		if !errors.Is(err, ErrProofPending) {
			t.Fatalf("expected ErrProofPending, got %v", err)
		}
		if res.Status != StatusPending || res.AttemptsRemaining != 3 {
			t.Fatalf("unexpected pending result %+v", res)
		}
	}

	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.AttemptCount != 0 {
		t.Fatalf("expected pending polls to be free, got %d attempts", stored.AttemptCount)
	}

	env.identity.setOutcome(OutcomeApproved)
	res, err := validate(env, ch, Proof{})
	if err != nil || res.Status != StatusCompleted || res.Token == nil {
		t.Fatalf("expected completion after pending, got %+v %v", res, err)
	}
}

func TestValidateProviderErrorKeepsCharge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.identity.collectErr = errors.New("idp down")
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.AttemptCount != 1 || stored.Status != StatusPending || stored.LastAttemptAt == nil {
		t.Fatalf("expected charged pending challenge, got %+v", stored)
	}
}

func TestValidateOneTimeCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600"), PreferredMethod: MethodOneTimeCode})
	code := env.delivery.lastCode(t)

	wrong := []byte(code)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10
	res, err := validate(env, ch, Proof{Code: string(wrong)})
	if !errors.Is(err, ErrProofInvalid) || res.AttemptsRemaining != 2 {
		t.Fatalf("expected rejected code, got %+v %v", res, err)
	}

	res, err = validate(env, ch, Proof{Code: code})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Status != StatusCompleted || res.Token == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestValidateMalformedProofIsNotCharged(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600"), PreferredMethod: MethodOneTimeCode})

	for _, code := range []string{"", "12345", "12ab56", "1234567"} {
		if _, err := validate(env, ch, Proof{Code: code}); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %q, got %v", code, err)
		}
	}
	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.AttemptCount != 0 {
		t.Fatalf("expected no charge, got %d", stored.AttemptCount)
	}
}

func TestValidateBiometricForwardsAssertion(t *testing.T) {
	env := newTestEnv(t, testConfig())
	p := env.subjects.profiles["s1"]
	p.RegisteredMethods = append(p.RegisteredMethods, MethodBiometric)
	p.BiometricEnabled = true
	env.subjects.profiles["s1"] = p

	ch := env.initiate(t, InitiateRequest{Amount: amount("600"), PreferredMethod: MethodBiometric})
	if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without assertion, got %v", err)
	}

	res, err := validate(env, ch, Proof{Assertion: "signed-assertion"})
	if err != nil || res.Status != StatusCompleted {
		t.Fatalf("expected completion, got %+v %v", res, err)
	}
	if env.bio.lastAssert != "signed-assertion" {
		t.Fatalf("assertion not forwarded, got %q", env.bio.lastAssert)
	}
}

func TestValidateExpiredChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig(), withMemoryStore())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600"), PreferredMethod: MethodOneTimeCode})
	code := env.delivery.lastCode(t)

	env.clock.Advance(5*time.Minute + time.Second)

	if _, err := validate(env, ch, Proof{Code: code}); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if _, err := env.engine.GetChallenge(context.Background(), ref(ch)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired from GetChallenge, got %v", err)
	}
	if env.engine.Metrics().Value(MetricChallengeExpired) != 1 {
		t.Fatal("expected expired metric")
	}
}

func TestValidateUnknownChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, err := env.engine.Validate(context.Background(), ValidateRequest{
		ChallengeRef: ChallengeRef{SubjectID: "s1", SessionID: "sess1", ChallengeID: "missing"},
	})
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if _, err := env.engine.Validate(context.Background(), ValidateRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateExemptedChallengeIsStable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("10")})

	res, err := validate(env, ch, Proof{})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Status != StatusExempted || res.Token != nil {
		t.Fatalf("expected EXEMPTED without token, got %+v", res)
	}
}

func TestValidateStoreOutageFailsClosed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})
	env.redis.Close()

	if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestValidateConcurrentIssuesExactlyOneToken(t *testing.T) {
	cfg := testConfig()
	cfg.Challenge.MaxAttempts = 20
	env := newTestEnv(t, cfg)
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		tokens   int
		already  int
		failures []error
		start    = make(chan struct{})
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			res, err := validate(env, ch, Proof{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if res.Token != nil {
				tokens++
			}
			if res.AlreadyCompleted {
				already++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(failures) != 0 {
		t.Fatalf("unexpected failures %v", failures)
	}
	if tokens != 1 || already != workers-1 {
		t.Fatalf("expected 1 token and %d already-completed, got %d and %d", workers-1, tokens, already)
	}

	copies := 0
	for _, key := range env.redis.Keys() {
		if strings.Contains(key, "tok:") {
			copies++
		}
	}
	if copies != 1 {
		t.Fatalf("expected one stored token copy, got %d", copies)
	}
	if env.engine.Metrics().Value(MetricTokenIssued) != 1 {
		t.Fatal("expected one issued token metric")
	}
}

func TestValidateRecordsLatency(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})
	if _, err := validate(env, ch, Proof{}); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	for id, want := range map[MetricID]uint64{
		MetricValidateLatency: 1,
		MetricInitiateLatency: 1,
		MetricProviderLatency: 2,
	} {
		var total uint64
		for _, v := range snap.Histograms[id] {
			total += v
		}
		if total != want {
			t.Fatalf("metric %d: expected %d observations, got %d", id, want, total)
		}
	}
}

// tokenWriteFailStore refuses token copy writes while fail is set.
type tokenWriteFailStore struct {
	store.Store
	fail atomic.Bool
}

func (s *tokenWriteFailStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.fail.Load() && strings.HasPrefix(key, "tok:") {
		return errors.New("token write refused")
	}
	return s.Store.SetWithTTL(ctx, key, value, ttl)
}

func TestValidateTokenWriteFailureLeavesChallengePending(t *testing.T) {
	backend := &tokenWriteFailStore{}
	env := newTestEnv(t, testConfig(), func(b *Builder, env *testEnv) {
		backend.Store = store.NewMemory(env.clock.Now)
		b.WithStore(backend)
	})
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	backend.fail.Store(true)
	if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.Status != StatusPending || stored.AttemptCount != 0 {
		t.Fatalf("expected untouched pending challenge, got %+v", stored)
	}

	backend.fail.Store(false)
	res, err := validate(env, ch, Proof{})
	if err != nil {
		t.Fatalf("Validate failed after recovery: %v", err)
	}
	if res.Status != StatusCompleted || res.Token == nil || res.AlreadyCompleted {
		t.Fatalf("expected fresh completion with token, got %+v", res)
	}
	if _, err := env.engine.ValidateTokenFor(context.Background(), res.Token.Token, "s1", "sess1"); err != nil {
		t.Fatalf("issued token should validate: %v", err)
	}
	if env.engine.Metrics().Value(MetricTokenIssued) != 1 {
		t.Fatal("expected one issued token metric")
	}
}

func TestValidateAbandonedCallKeepsCharge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.identity.setBlock(true)
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	for i := 1; i <= 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := env.engine.Validate(ctx, ValidateRequest{ChallengeRef: ref(ch)})
			done <- err
		}()
		env.identity.waitCollects(t, i)
		cancel()
		if err := <-done; !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("call %d: expected ErrProviderUnavailable, got %v", i, err)
		}

		stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
		if err != nil {
			t.Fatalf("GetChallenge failed: %v", err)
		}
		if stored.AttemptCount != i {
			t.Fatalf("call %d: expected %d charged attempts, got %d", i, i, stored.AttemptCount)
		}
	}

	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("expected FAILED once the budget is spent, got %v", stored.Status)
	}

	env.identity.setBlock(false)
	env.identity.setOutcome(OutcomeApproved)
	res, err := validate(env, ch, Proof{})
	if !errors.Is(err, ErrChallengeAttemptsExceeded) {
		t.Fatalf("expected ErrChallengeAttemptsExceeded, got %v", err)
	}
	if res == nil || res.Status != StatusFailed || res.Token != nil {
		t.Fatalf("expected FAILED without token, got %+v", res)
	}
	if env.identity.collects != 3 {
		t.Fatalf("expected no collect after exhaustion, got %d", env.identity.collects)
	}
}

func TestValidateProviderFailureOnLastAttemptFailsChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.identity.collectErr = errors.New("idp down")
	ch := env.initiate(t, InitiateRequest{Amount: amount("600")})

	for i := 0; i < 3; i++ {
		if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("call %d: expected ErrProviderUnavailable, got %v", i+1, err)
		}
	}

	stored, err := env.engine.GetChallenge(context.Background(), ref(ch))
	if err != nil {
		t.Fatalf("GetChallenge failed: %v", err)
	}
	if stored.Status != StatusFailed || stored.AttemptCount != 3 {
		t.Fatalf("expected FAILED with 3 attempts, got %+v", stored)
	}
	if env.engine.Metrics().Value(MetricChallengeFailed) != 1 {
		t.Fatal("expected one failed challenge metric")
	}
	if _, err := validate(env, ch, Proof{}); !errors.Is(err, ErrChallengeAttemptsExceeded) {
		t.Fatalf("expected ErrChallengeAttemptsExceeded, got %v", err)
	}
}
