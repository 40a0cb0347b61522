package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBroker = errors.New("broker down")

func newTestBreaker(clock *fakeClock) *Breaker {
	return New(Settings{
		Name:             "mock-broker",
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		Now:              clock.Now,
	}, nil)
}

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errBroker
	}
}

func succeeding(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return nil
	}
}

func openBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	var calls int32
	for i := 0; i < 3; i++ {
		if err := b.Call(context.Background(), failing(&calls)); !errors.Is(err, errBroker) {
			t.Fatalf("call %d: expected broker error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 3 failures, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThresholdAndRejectsWithoutCalling(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	var calls int32
	_ = b.Call(context.Background(), failing(&calls))
	_ = b.Call(context.Background(), failing(&calls))
	if b.State() != StateClosed {
		t.Fatalf("should still be CLOSED after 2 failures")
	}
	_ = b.Call(context.Background(), failing(&calls))
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	err := b.Call(context.Background(), failing(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("4th call error = %v, want ErrCircuitOpen", err)
	}
	if calls != 3 {
		t.Fatalf("wrapped function invoked %d times, want 3", calls)
	}

	var openErr *OpenError
	if !errors.As(err, &openErr) || openErr.RetryAfter != 60*time.Second {
		t.Fatalf("unexpected open error %#v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	var calls int32

	_ = b.Call(context.Background(), failing(&calls))
	_ = b.Call(context.Background(), failing(&calls))
	if err := b.Call(context.Background(), succeeding(&calls)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := b.Snapshot().FailureCount; got != 0 {
		t.Fatalf("failure count = %d, want 0", got)
	}
	_ = b.Call(context.Background(), failing(&calls))
	_ = b.Call(context.Background(), failing(&calls))
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the circuit")
	}
}

func TestBreaker_StaysOpenUntilTimeoutElapses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	openBreaker(t, b)

	var calls int32
	clock.Advance(60 * time.Second)
	if err := b.Call(context.Background(), succeeding(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call at exactly the timeout should be rejected, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("wrapped function must not run while OPEN")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	openBreaker(t, b)

	clock.Advance(61 * time.Second)
	var calls int32
	if err := b.Call(context.Background(), succeeding(&calls)); err != nil {
		t.Fatalf("trial call error: %v", err)
	}
	snap := b.Snapshot()
	if snap.State != StateClosed || snap.FailureCount != 0 {
		t.Fatalf("expected CLOSED with zero failures, got %+v", snap)
	}
}

func TestBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	openBreaker(t, b)

	clock.Advance(61 * time.Second)
	var calls int32
	if err := b.Call(context.Background(), failing(&calls)); !errors.Is(err, errBroker) {
		t.Fatalf("trial call should surface broker error, got %v", err)
	}
	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected OPEN after failed trial, got %s", snap.State)
	}
	if snap.LastFailure == nil || !snap.LastFailure.Equal(clock.Now()) {
		t.Fatalf("last failure should be refreshed to %v, got %v", clock.Now(), snap.LastFailure)
	}

	if err := b.Call(context.Background(), succeeding(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection right after failed trial, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("wrapped function invoked %d times, want 1", calls)
	}
}

func TestBreaker_HalfOpenAllowsSingleConcurrentTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	openBreaker(t, b)
	clock.Advance(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var invoked int32

	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Call(context.Background(), func(context.Context) error {
			atomic.AddInt32(&invoked, 1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	const contenders = 16
	var wg sync.WaitGroup
	var rejected int32
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Call(context.Background(), func(context.Context) error {
				atomic.AddInt32(&invoked, 1)
				return nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	if rejected != contenders {
		t.Fatalf("rejected = %d, want %d", rejected, contenders)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN during trial, got %s", b.State())
	}

	close(release)
	if err := <-trialDone; err != nil {
		t.Fatalf("trial error: %v", err)
	}
	if invoked != 1 {
		t.Fatalf("wrapped function invoked %d times, want exactly 1", invoked)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after trial success, got %s", b.State())
	}
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	func() {
		defer func() { recover() }()
		_ = b.Call(context.Background(), func(context.Context) error { panic("boom") })
	}()
	if got := b.Snapshot().FailureCount; got != 1 {
		t.Fatalf("failure count = %d, want 1", got)
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	v, err := Execute(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Execute = %d, %v", v, err)
	}
}

func TestRegistry_OneBreakerPerDependency(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Settings{FailureThreshold: 1, RecoveryTimeout: time.Second, Now: clock.Now}, nil)

	a := reg.Get("broker-a")
	if reg.Get("broker-a") != a {
		t.Fatalf("expected same breaker instance for the same key")
	}
	var calls int32
	_ = a.Call(context.Background(), failing(&calls))
	if a.State() != StateOpen {
		t.Fatalf("expected broker-a OPEN")
	}
	if reg.Get("broker-b").State() != StateClosed {
		t.Fatalf("broker-b must be isolated from broker-a")
	}

	snaps := reg.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "broker-a" || snaps[0].State != StateOpen {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	openBreaker(t, b)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after reset")
	}
}

func TestBreaker_LateFailureDoesNotExtendRecoveryWindow(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	started := make(chan struct{})
	release := make(chan struct{})
	slowDone := make(chan error, 1)
	go func() {
		slowDone <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return errBroker
		})
	}()
	<-started

	openBreaker(t, b)
	tripped := clock.Now()

	clock.Advance(30 * time.Second)
	close(release)
	if err := <-slowDone; !errors.Is(err, errBroker) {
		t.Fatalf("slow call should surface broker error, got %v", err)
	}
	if snap := b.Snapshot(); snap.LastFailure == nil || !snap.LastFailure.Equal(tripped) {
		t.Fatalf("last failure should stay at trip time %v, got %v", tripped, snap.LastFailure)
	}

	clock.Advance(31 * time.Second)
	var calls int32
	if err := b.Call(context.Background(), succeeding(&calls)); err != nil {
		t.Fatalf("trial should be allowed 61s after the trip, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after successful trial, got %s", b.State())
	}
}

func TestSnapshot_LastFailureOmittedUntilFirstFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	raw, err := json.Marshal(b.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if strings.Contains(string(raw), "last_failure_timestamp") {
		t.Fatalf("fresh breaker should not report a failure time, got %s", raw)
	}

	var calls int32
	_ = b.Call(context.Background(), failing(&calls))
	raw, err = json.Marshal(b.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if !strings.Contains(string(raw), "last_failure_timestamp") {
		t.Fatalf("snapshot should carry the failure time after a failure, got %s", raw)
	}
}
