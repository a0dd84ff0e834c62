package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/jerrymouse/servlet"
)

// recorder is a Notifier that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) ServletContext() servlet.Context { return nil }
func (r *recorder) SessionCreated(_ context.Context, s *Session) {
	r.add("created:" + s.ID())
}
func (r *recorder) SessionDestroyed(_ context.Context, s *Session) {
	r.add("destroyed:" + s.ID())
}
func (r *recorder) SessionAttributeAdded(_ *Session, name string, _ any) {
	r.add("added:" + name)
}
func (r *recorder) SessionAttributeRemoved(_ *Session, name string, _ any) {
	r.add("removed:" + name)
}
func (r *recorder) SessionAttributeReplaced(_ *Session, name string, _ any) {
	r.add("replaced:" + name)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *recorder, *fakeClock) {
	t.Helper()
	rec := &recorder{}
	clk := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(timeout, rec, WithSweepInterval(0), WithClock(clk.Now))
	t.Cleanup(m.Close)
	return m, rec, clk
}

func TestGetOrCreateCreatesOnceAndTouches(t *testing.T) {
	m, rec, clk := newTestManager(t, 30*time.Minute)
	ctx := t.Context()

	s := m.GetOrCreate(ctx, "abc")
	if want, got := "abc", s.ID(); want != got {
		t.Fatalf("id: want %q got %q", want, got)
	}
	if isNew, err := s.IsNew(); err != nil || !isNew {
		t.Fatalf("fresh session should be new: %v, %v", isNew, err)
	}
	if want, got := 30*time.Minute, s.MaxInactiveInterval(); want != got {
		t.Fatalf("timeout: want %v got %v", want, got)
	}

	clk.Advance(time.Second)
	again := m.GetOrCreate(ctx, "abc")
	if again != s {
		t.Fatalf("expected the stored session to be returned")
	}
	if isNew, _ := s.IsNew(); isNew {
		t.Fatalf("touched session should not be new")
	}
	if !s.CreationTime().Before(s.LastAccessedTime()) {
		t.Fatalf("last access should move forward: created %v last %v", s.CreationTime(), s.LastAccessedTime())
	}
	if want, got := []string{"created:abc"}, rec.snapshot(); !equal(want, got) {
		t.Fatalf("events: want %v got %v", want, got)
	}
	if want, got := 1, m.Len(); want != got {
		t.Fatalf("len: want %d got %d", want, got)
	}
}

func TestConcurrentGetOrCreateFiresCreatedOnce(t *testing.T) {
	m, rec, _ := newTestManager(t, time.Minute)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GetOrCreate(ctx, "shared")
		}()
	}
	wg.Wait()

	if want, got := 1, len(rec.snapshot()); want != got {
		t.Fatalf("want %d created event, got %d", want, got)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	m, rec, clk := newTestManager(t, time.Second)
	ctx := t.Context()

	stale := m.GetOrCreate(ctx, "stale")
	forever := m.GetOrCreate(ctx, "forever")
	forever.SetMaxInactiveInterval(0)

	if n := m.Sweep(clk.Now().Add(500 * time.Millisecond)); n != 0 {
		t.Fatalf("nothing should expire yet, removed %d", n)
	}

	if want, got := 1, m.Sweep(clk.Now().Add(2*time.Second)); want != got {
		t.Fatalf("removed: want %d got %d", want, got)
	}
	if _, ok := m.Lookup("stale"); ok {
		t.Fatalf("expired session still stored")
	}
	if _, ok := m.Lookup("forever"); !ok {
		t.Fatalf("session without timeout was removed")
	}
	if stale.ID() != "" {
		t.Fatalf("invalidated session should drop its id")
	}
	if want, got := []string{"created:stale", "created:forever", "destroyed:stale"}, rec.snapshot(); !equal(want, got) {
		t.Fatalf("events: want %v got %v", want, got)
	}
}

func TestExpireSkipsSessionTouchedAfterSnapshot(t *testing.T) {
	m, rec, clk := newTestManager(t, time.Second)
	ctx := t.Context()

	s := m.GetOrCreate(ctx, "busy")
	clk.Advance(2 * time.Second)
	now := clk.Now()
	if !s.expiredAt(now) {
		t.Fatalf("expected session to be idle past its interval")
	}

	// A request arrives between the sweep's snapshot and its invalidation.
	if got := m.GetOrCreate(ctx, "busy"); got != s {
		t.Fatalf("expected the stored session back")
	}
	if m.expire(s, now) {
		t.Fatalf("expected a touched session to survive expiry")
	}
	if _, err := s.Attribute("x"); err != nil {
		t.Fatalf("expected session to stay valid, got %v", err)
	}
	if _, ok := m.Lookup("busy"); !ok {
		t.Fatalf("expected session to stay stored")
	}
	if want, got := []string{"created:busy"}, rec.snapshot(); !equal(want, got) {
		t.Fatalf("events: want %v got %v", want, got)
	}
}

func TestSweeperRunsInBackground(t *testing.T) {
	rec := &recorder{}
	m := NewManager(time.Nanosecond, rec, WithSweepInterval(5*time.Millisecond))
	defer m.Close()

	m.GetOrCreate(t.Context(), "short")

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not remove the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInvalidatedSessionRejectsOperations(t *testing.T) {
	m, _, _ := newTestManager(t, time.Minute)
	s := m.GetOrCreate(t.Context(), "gone")

	if err := s.Invalidate(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := m.Lookup("gone"); ok {
		t.Fatalf("lookup after invalidate should be absent")
	}

	checks := map[string]error{
		"Invalidate":      s.Invalidate(),
		"SetAttribute":    s.SetAttribute("k", 1),
		"RemoveAttribute": s.RemoveAttribute("k"),
	}
	_, checks["Attribute"] = s.Attribute("k")
	_, checks["AttributeNames"] = s.AttributeNames()
	_, checks["IsNew"] = s.IsNew()
	for name, err := range checks {
		if !errors.Is(err, servlet.ErrIllegalState) {
			t.Fatalf("%s: want ErrIllegalState, got %v", name, err)
		}
	}
}

func TestAttributeEvents(t *testing.T) {
	m, rec, _ := newTestManager(t, time.Minute)
	s := m.GetOrCreate(t.Context(), "attrs")

	for _, step := range []struct {
		name  string
		value any
	}{
		{"count", 1},
		{"count", 2},
		{"count", nil},
	} {
		if err := s.SetAttribute(step.name, step.value); err != nil {
			t.Fatalf("set %v: %v", step.value, err)
		}
	}
	if err := s.RemoveAttribute("never-set"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	want := []string{"created:attrs", "added:count", "replaced:count", "removed:count", "removed:never-set"}
	if got := rec.snapshot(); !equal(want, got) {
		t.Fatalf("events: want %v got %v", want, got)
	}
	if v, _ := s.Attribute("count"); v != nil {
		t.Fatalf("attribute should be gone, got %v", v)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(time.Minute, nil, WithSweepInterval(time.Hour))
	m.Close()
	m.Close()
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
