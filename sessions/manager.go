package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/jerrymouse/internal/attrs"
	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultSweepInterval is how often expired sessions are looked for.
const DefaultSweepInterval = 60 * time.Second

// Notifier receives session lifecycle and attribute events.
type Notifier interface {
	// ServletContext is the context sessions report as their owner.
	ServletContext() servlet.Context

	SessionCreated(ctx context.Context, s *Session)
	SessionDestroyed(ctx context.Context, s *Session)
	SessionAttributeAdded(s *Session, name string, value any)
	SessionAttributeRemoved(s *Session, name string, value any)
	SessionAttributeReplaced(s *Session, name string, value any)
}

type Option func(*Manager)

// WithSweepInterval overrides DefaultSweepInterval. A non-positive interval
// disables the background sweeper; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepEvery = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager stores sessions by id and expires idle ones.
type Manager struct {
	sessions *xsync.MapOf[string, *Session]
	timeout  time.Duration
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	sweepEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
}

// NewManager returns a manager whose new sessions expire after timeout of
// inactivity and starts its sweeper. Callers must Close it.
func NewManager(timeout time.Duration, n Notifier, opts ...Option) *Manager {
	m := &Manager{
		sessions:   xsync.NewMapOf[string, *Session](),
		timeout:    timeout,
		notifier:   n,
		log:        slog.Default(),
		now:        time.Now,
		sweepEvery: DefaultSweepInterval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sweepEvery > 0 {
		go m.sweepLoop()
	} else {
		close(m.doneCh)
	}

	return m
}

// GetOrCreate returns the session stored under id, refreshing its last
// access time, or creates and stores a new one.
func (m *Manager) GetOrCreate(ctx context.Context, id string) *Session {
	now := m.now()
	created := false
	s, loaded := m.sessions.LoadOrCompute(id, func() *Session {
		created = true
		return &Session{
			id:           id,
			manager:      m,
			created:      now,
			lastAccessed: now,
			maxInactive:  m.timeout,
			attrs:        attrs.NewConcurrent(),
		}
	})
	if loaded {
		s.touch(now)
		return s
	}
	if created && m.notifier != nil {
		m.notifier.SessionCreated(ctx, s)
	}
	return s
}

// Lookup returns the session stored under id without touching it.
func (m *Manager) Lookup(id string) (*Session, bool) {
	return m.sessions.Load(id)
}

// Remove deletes s from the store and reports its destruction.
func (m *Manager) Remove(ctx context.Context, s *Session) {
	if _, ok := m.sessions.LoadAndDelete(s.ID()); !ok {
		return
	}
	if m.notifier != nil {
		m.notifier.SessionDestroyed(ctx, s)
	}
}

func (m *Manager) Len() int {
	return m.sessions.Size()
}

// Sweep invalidates every session idle past its max inactive interval as of
// now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	// Snapshot the ids first so invalidation does not mutate the map while
	// it is being ranged.
	expired := make([]*Session, 0)
	m.sessions.Range(func(_ string, s *Session) bool {
		if s.expiredAt(now) {
			expired = append(expired, s)
		}
		return true
	})

	removed := 0
	for _, s := range expired {
		if m.expire(s, now) {
			removed++
		}
	}
	return removed
}

func (m *Manager) expire(s *Session, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session.expire.panic", slog.String("session_id", s.ID()), slog.Any("panic", r))
			ok = false
		}
	}()
	id, last := s.ID(), s.LastAccessedTime()
	if !s.expire(now) {
		// Touched or invalidated since the snapshot.
		return false
	}
	m.log.Info("session.expired", slog.String("session_id", id), slog.Time("last_accessed", last))
	return true
}

func (m *Manager) sweepLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// Close stops the sweeper and waits for it to exit. Stored sessions are kept.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}
