package client

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/BerjisTech/kra-connect-go/internal/testutil"
	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/cache"
	"github.com/BerjisTech/kra-connect-go/pkg/clock"
	"github.com/BerjisTech/kra-connect-go/pkg/ratelimit"
	"github.com/BerjisTech/kra-connect-go/pkg/retry"
	"github.com/BerjisTech/kra-connect-go/pkg/transport"
	"github.com/cucumber/godog"
	"github.com/rs/zerolog"
)

// TestRequestControlFeatures runs the request control scenarios via godog.
func TestRequestControlFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "request-control",
		ScenarioInitializer: initializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("testdata", "features")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

func initializeScenario(ctx *godog.ScenarioContext) {
	state := &scenarioState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	ctx.Step(`^a token bucket allowing (\d+) requests per (\d+) seconds$`, state.givenLimiter(ratelimit.AlgorithmTokenBucket))
	ctx.Step(`^a sliding window allowing (\d+) requests per (\d+) seconds$`, state.givenLimiter(ratelimit.AlgorithmSlidingWindow))
	ctx.Step(`^I acquire (\d+) times with blocking$`, state.acquireBlocking)
	ctx.Step(`^all (\d+) acquisitions are granted$`, state.allGranted)
	ctx.Step(`^the limiter waited (\d+) milliseconds in total$`, state.limiterWaited)
	ctx.Step(`^a non-blocking acquisition is refused with retry after (\d+) seconds$`, state.nonBlockingRefused)
	ctx.Step(`^a non-blocking acquisition is granted$`, state.nonBlockingGranted)
	ctx.Step(`^(\d+) milliseconds pass$`, state.timePasses)
	ctx.Step(`^a cache with a TTL of (\d+) milliseconds$`, state.givenCache)
	ctx.Step(`^I get-or-set "([^"]+)" (\d+) times$`, state.getOrSet)
	ctx.Step(`^the value was computed (\d+) times?$`, state.computedTimes)
	ctx.Step(`^the API fails (\d+) times with "([^"]+)" errors before answering$`, state.givenFailures)
	ctx.Step(`^the API rejects the API key$`, state.givenRejectedKey)
	ctx.Step(`^a retry policy of (\d+) attempts$`, state.givenRetryPolicy)
	ctx.Step(`^I verify PIN "([^"]+)"$`, state.verifyPIN)
	ctx.Step(`^the operation succeeds$`, state.operationSucceeds)
	ctx.Step(`^the operation fails with a "([^"]+)" error$`, state.operationFails)
	ctx.Step(`^(\d+) retry delays were observed$`, state.retryDelays)
}

// scenarioState holds scenario state for the feature tests.
type scenarioState struct {
	clock    *clock.Manual
	limiter  ratelimit.Limiter
	granted  int
	cache    *cache.Manager
	computed int
	sender   *fakeSender
	attempts int
	delays   []time.Duration
	err      error
}

func (s *scenarioState) reset() {
	*s = scenarioState{clock: clock.NewManual(testStart)}
}

func (s *scenarioState) givenLimiter(algorithm ratelimit.Algorithm) func(int, int) error {
	return func(maxRequests, windowSeconds int) error {
		limiter, err := ratelimit.New(ratelimit.Config{
			Enabled:     true,
			Algorithm:   algorithm,
			MaxRequests: maxRequests,
			Window:      time.Duration(windowSeconds) * time.Second,
		}, ratelimit.WithClock(s.clock), ratelimit.WithLogger(zerolog.Nop()))
		s.limiter = limiter
		return err
	}
}

func (s *scenarioState) acquireBlocking(n int) error {
	for range n {
		granted, err := s.limiter.Acquire(context.Background())
		if err != nil {
			return err
		}
		if granted {
			s.granted++
		}
	}
	return nil
}

func (s *scenarioState) allGranted(n int) error {
	if s.granted != n {
		return fmt.Errorf("granted %d acquisitions, want %d", s.granted, n)
	}
	return nil
}

func (s *scenarioState) limiterWaited(ms int) error {
	want := time.Duration(ms) * time.Millisecond
	got := s.clock.Slept()
	// Waits are rounded up, so allow a little slack.
	if got < want || got > want+5*time.Millisecond {
		return fmt.Errorf("limiter waited %s, want %s", got, want)
	}
	return nil
}

func (s *scenarioState) nonBlockingRefused(seconds int) error {
	granted, err := s.limiter.Acquire(context.Background(), ratelimit.NonBlocking())
	if granted {
		return errors.New("acquisition was granted")
	}
	after, ok := apierror.RetryAfter(err)
	if !ok {
		return fmt.Errorf("expected a rate limit error, got %v", err)
	}
	if want := time.Duration(seconds) * time.Second; after != want {
		return fmt.Errorf("retry after %s, want %s", after, want)
	}
	return nil
}

func (s *scenarioState) nonBlockingGranted() error {
	granted, err := s.limiter.Acquire(context.Background(), ratelimit.NonBlocking())
	if err != nil {
		return err
	}
	if !granted {
		return errors.New("acquisition was refused")
	}
	return nil
}

func (s *scenarioState) timePasses(ms int) error {
	s.clock.Advance(time.Duration(ms) * time.Millisecond)
	return nil
}

func (s *scenarioState) givenCache(ms int) error {
	m, err := cache.NewManager(cache.Config{
		Enabled: true,
		TTL:     time.Duration(ms) * time.Millisecond,
		MaxSize: 10,
	}, cache.WithClock(s.clock), cache.WithLogger(zerolog.Nop()))
	s.cache = m
	return err
}

func (s *scenarioState) getOrSet(key string, n int) error {
	for range n {
		_, err := s.cache.GetOrSet(context.Background(), key, func(context.Context) (any, error) {
			s.computed++
			return "value", nil
		}, cache.DefaultTTL)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scenarioState) computedTimes(n int) error {
	if s.computed != n {
		return fmt.Errorf("computed %d times, want %d", s.computed, n)
	}
	return nil
}

func (s *scenarioState) givenFailures(n int, class string) error {
	failure := fail(&apierror.Error{Class: apierror.Class(class), StatusCode: 503, Message: "unavailable"})
	outcomes := make([]func(*transport.Request) (*transport.Response, error), 0, n+1)
	for range n {
		outcomes = append(outcomes, failure)
	}
	outcomes = append(outcomes, respond(`{"valid": true, "status": "active"}`))
	s.sender = &fakeSender{outcomes: outcomes}
	return nil
}

func (s *scenarioState) givenRejectedKey() error {
	s.sender = &fakeSender{outcomes: []func(*transport.Request) (*transport.Response, error){
		fail(apierror.NewAuthentication(401, "/verify-pin")),
	}}
	return nil
}

func (s *scenarioState) givenRetryPolicy(attempts int) error {
	s.attempts = attempts
	return nil
}

func (s *scenarioState) verifyPIN(pin string) error {
	cfg := DefaultConfig(testutil.TestAPIKey)
	cfg.Retry.MaxAttempts = s.attempts

	c, err := New(cfg,
		WithSender(s.sender),
		WithClock(s.clock),
		WithLogger(zerolog.Nop()),
		WithRetryOptions(
			retry.WithJitter(noJitter),
			retry.WithOnRetry(func(_ int, _ error, delay time.Duration) {
				s.delays = append(s.delays, delay)
			}),
		),
	)
	if err != nil {
		return err
	}

	_, s.err = c.VerifyPIN(context.Background(), pin)
	return nil
}

func (s *scenarioState) operationSucceeds() error {
	return s.err
}

func (s *scenarioState) operationFails(class string) error {
	if s.err == nil {
		return errors.New("operation succeeded")
	}
	if got := apierror.ClassOf(s.err); got != apierror.Class(class) {
		return fmt.Errorf("error class %q, want %q", got, class)
	}
	return nil
}

func (s *scenarioState) retryDelays(n int) error {
	if len(s.delays) != n {
		return fmt.Errorf("observed %d retry delays, want %d", len(s.delays), n)
	}
	if len(s.clock.Sleeps()) != n {
		return fmt.Errorf("clock slept %d times, want %d", len(s.clock.Sleeps()), n)
	}
	return nil
}
