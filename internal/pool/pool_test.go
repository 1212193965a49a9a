package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUnit counts Clear calls so tests can observe recycling. Setting
// blockClear before a release makes Clear wait on it.
type fakeUnit struct {
	id         int
	blockClear chan struct{}
	mu         sync.Mutex
	clears     int
}

func (u *fakeUnit) ProcessChunk(ctx context.Context, samples []float32) (reconcile.Delta, error) {
	return reconcile.Delta{}, nil
}

func (u *fakeUnit) EndOfStream(ctx context.Context) (reconcile.Delta, error) {
	return reconcile.Delta{}, nil
}

func (u *fakeUnit) SetSourceLanguage(ctx context.Context, lang string) error { return nil }
func (u *fakeUnit) SetTargetLanguage(ctx context.Context, lang string) error { return nil }

func (u *fakeUnit) Clear(ctx context.Context) error {
	if u.blockClear != nil {
		<-u.blockClear
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.clears++
	return nil
}

func (u *fakeUnit) TokensToString(ctx context.Context, tokens []string) (string, error) {
	return "", nil
}

func (u *fakeUnit) SpeechChunkSize(ctx context.Context) (float64, error) { return 0.5, nil }

func (u *fakeUnit) clearCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.clears
}

func newTestPool(t *testing.T, capacity int, ttl time.Duration) (*Pool, []*fakeUnit) {
	t.Helper()

	var units []*fakeUnit
	next := 0
	factory := func() (processor.Unit, error) {
		u := &fakeUnit{id: next}
		next++
		units = append(units, u)
		return u, nil
	}

	p, err := New(factory, capacity, ttl, testLogger(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(p.Stop)
	return p, units
}

func leasedUnit(t *testing.T, lease *Lease) *fakeUnit {
	t.Helper()
	var got *fakeUnit
	err := lease.Do(func(u processor.Unit) error {
		fu, ok := u.(*fakeUnit)
		if !ok {
			return fmt.Errorf("unexpected unit type %T", u)
		}
		got = fu
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	return got
}

func TestNewValidation(t *testing.T) {
	factory := func() (processor.Unit, error) { return &fakeUnit{}, nil }

	if _, err := New(factory, 0, time.Second, testLogger(), nil); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := New(factory, 2, 0, testLogger(), nil); err == nil {
		t.Error("expected error for zero ttl")
	}

	broken := func() (processor.Unit, error) { return nil, errors.New("model load failed") }
	if _, err := New(broken, 2, time.Second, testLogger(), nil); err == nil {
		t.Error("expected error when factory fails")
	}
}

func TestCheckoutExhaustion(t *testing.T) {
	p, _ := newTestPool(t, 2, time.Minute)

	if _, err := p.Checkout("a"); err != nil {
		t.Fatalf("checkout a failed: %v", err)
	}
	if _, err := p.Checkout("b"); err != nil {
		t.Fatalf("checkout b failed: %v", err)
	}

	_, err := p.Checkout("c")
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	stats := p.GetStats()
	if stats.ActiveSessions != 2 || stats.Available != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCheckoutIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 2, time.Minute)

	first, err := p.Checkout("session-1")
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := p.Checkout("session-1")
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}

	if leasedUnit(t, first) != leasedUnit(t, second) {
		t.Error("repeated checkout of the same session returned a different unit")
	}

	stats := p.GetStats()
	if stats.ActiveSessions != 1 || stats.Available != 1 {
		t.Errorf("repeated checkout consumed an extra unit: %+v", stats)
	}
}

func TestReleaseRecyclesUnit(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Minute)

	lease, err := p.Checkout("a")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	unit := leasedUnit(t, lease)

	if !p.Release("a") {
		t.Fatal("Release returned false for an active session")
	}
	if unit.clearCount() != 1 {
		t.Errorf("expected 1 clear on release, got %d", unit.clearCount())
	}
	if p.IsActive("a") {
		t.Error("session still active after release")
	}

	// Released unit must be available for the next session.
	next, err := p.Checkout("b")
	if err != nil {
		t.Fatalf("checkout after release failed: %v", err)
	}
	if leasedUnit(t, next) != unit {
		t.Error("expected the recycled unit to be handed out again")
	}
}

func TestCheckoutDuringSlowRecycle(t *testing.T) {
	p, units := newTestPool(t, 1, time.Minute)

	if _, err := p.Checkout("a"); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	unit := units[0]
	unit.blockClear = make(chan struct{})

	released := make(chan struct{})
	go func() {
		p.Release("a")
		close(released)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.IsActive("a") {
		if time.Now().After(deadline) {
			t.Fatal("release did not detach the session in time")
		}
		time.Sleep(time.Millisecond)
	}

	// The detached unit is mid-clear: it belongs to no session and has
	// not reached the available set yet, so a fresh id finds nothing.
	if _, err := p.Checkout("b"); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted while the unit clears, got %v", err)
	}

	close(unit.blockClear)
	<-released

	if _, err := p.Checkout("b"); err != nil {
		t.Fatalf("checkout after recycle failed: %v", err)
	}
}

func TestReleaseUnknownSession(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Minute)

	if p.Release("nope") {
		t.Error("Release returned true for an unknown session")
	}
}

func TestCapacityInvariant(t *testing.T) {
	p, _ := newTestPool(t, 3, time.Minute)

	check := func(when string) {
		stats := p.GetStats()
		if stats.ActiveSessions+stats.Available != 3 {
			t.Errorf("%s: active(%d)+available(%d) != capacity", when, stats.ActiveSessions, stats.Available)
		}
	}

	check("initial")
	p.Checkout("a")
	p.Checkout("b")
	check("after checkouts")
	p.Release("a")
	check("after release")
	p.Checkout("c")
	p.Checkout("d")
	check("full")
}

func TestTTLEviction(t *testing.T) {
	p, _ := newTestPool(t, 1, 50*time.Millisecond)

	lease, err := p.Checkout("idle")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	unit := leasedUnit(t, lease)

	deadline := time.Now().Add(2 * time.Second)
	for p.IsActive("idle") {
		if time.Now().After(deadline) {
			t.Fatal("session was not evicted within the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if unit.clearCount() == 0 {
		t.Error("evicted unit was not cleared")
	}

	stats := p.GetStats()
	if stats.Evictions == 0 {
		t.Error("eviction counter not incremented")
	}
	if stats.Available != 1 {
		t.Errorf("evicted unit not returned to pool: %+v", stats)
	}
}

func TestCheckoutRefreshesTTL(t *testing.T) {
	p, _ := newTestPool(t, 1, 120*time.Millisecond)

	if _, err := p.Checkout("busy"); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// Keep touching the session across several reaper intervals.
	for i := 0; i < 6; i++ {
		time.Sleep(60 * time.Millisecond)
		if _, err := p.Checkout("busy"); err != nil {
			t.Fatalf("refresh checkout failed: %v", err)
		}
	}

	if !p.IsActive("busy") {
		t.Error("active session was evicted despite refreshes")
	}
}

func TestLeaseSerializesAccess(t *testing.T) {
	p, _ := newTestPool(t, 1, time.Minute)

	lease, err := p.Checkout("a")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	var inFlight, maxInFlight int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease.Do(func(u processor.Unit) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("expected serialized access, saw %d concurrent calls", maxInFlight)
	}
}

func TestStopReleasesSessions(t *testing.T) {
	var units []*fakeUnit
	factory := func() (processor.Unit, error) {
		u := &fakeUnit{}
		units = append(units, u)
		return u, nil
	}

	p, err := New(factory, 2, time.Minute, testLogger(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	lease, err := p.Checkout("a")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	unit := leasedUnit(t, lease)

	p.Stop()

	if unit.clearCount() != 1 {
		t.Errorf("expected unit cleared on Stop, got %d clears", unit.clearCount())
	}
	if p.GetStats().ActiveSessions != 0 {
		t.Error("sessions remained after Stop")
	}
}
