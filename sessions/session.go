package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/jerrymouse/internal/attrs"
	"github.com/ggoodman/jerrymouse/servlet"
)

var _ servlet.Session = (*Session)(nil)

// Session is server-side state keyed by an opaque id. It is safe for
// concurrent use by the parallel requests of one client.
type Session struct {
	manager *Manager
	attrs   attrs.Store

	mu           sync.Mutex
	id           string
	created      time.Time
	lastAccessed time.Time
	maxInactive  time.Duration
	invalid      bool
}

// ID returns the session id, or "" once the session has been invalidated.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) CreationTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *Session) LastAccessedTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) MaxInactiveInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInactive
}

// SetMaxInactiveInterval changes the idle timeout. A non-positive duration
// means the session never expires.
func (s *Session) SetMaxInactiveInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxInactive = d
}

// IsNew reports whether the client has not yet come back with this session.
func (s *Session) IsNew() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return false, errInvalidated
	}
	return s.created.Equal(s.lastAccessed), nil
}

func (s *Session) Attribute(name string) (any, error) {
	if err := s.checkValid(); err != nil {
		return nil, err
	}
	return s.attrs.Get(name), nil
}

func (s *Session) AttributeNames() ([]string, error) {
	if err := s.checkValid(); err != nil {
		return nil, err
	}
	return s.attrs.Names(), nil
}

// SetAttribute stores value under name. A nil value removes the attribute.
func (s *Session) SetAttribute(name string, value any) error {
	if value == nil {
		return s.RemoveAttribute(name)
	}
	if err := s.checkValid(); err != nil {
		return err
	}
	prior := s.attrs.Set(name, value)
	if n := s.manager.notifier; n != nil {
		if prior != nil {
			n.SessionAttributeReplaced(s, name, value)
		} else {
			n.SessionAttributeAdded(s, name, value)
		}
	}
	return nil
}

// RemoveAttribute deletes name and reports the removal even when it was not
// set.
func (s *Session) RemoveAttribute(name string) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	prior := s.attrs.Remove(name)
	if n := s.manager.notifier; n != nil {
		n.SessionAttributeRemoved(s, name, prior)
	}
	return nil
}

// Invalidate removes the session from its manager. Every later call except
// the time getters fails with servlet.ErrIllegalState.
func (s *Session) Invalidate() error {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return errInvalidated
	}
	s.invalid = true
	s.mu.Unlock()

	s.release()
	return nil
}

// expire invalidates s only if it is still idle past its interval at now, so
// a request that touched it after the sweeper's snapshot keeps it alive.
func (s *Session) expire(now time.Time) bool {
	s.mu.Lock()
	if !s.expiredLocked(now) {
		s.mu.Unlock()
		return false
	}
	s.invalid = true
	s.mu.Unlock()

	s.release()
	return true
}

func (s *Session) release() {
	s.manager.Remove(context.Background(), s)

	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

func (s *Session) ServletContext() servlet.Context {
	if n := s.manager.notifier; n != nil {
		return n.ServletContext()
	}
	return nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastAccessed) {
		s.lastAccessed = now
	}
}

func (s *Session) expiredAt(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked(now)
}

func (s *Session) expiredLocked(now time.Time) bool {
	if s.invalid || s.maxInactive <= 0 {
		return false
	}
	return s.lastAccessed.Add(s.maxInactive).Before(now)
}

func (s *Session) checkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid {
		return errInvalidated
	}
	return nil
}

var errInvalidated = fmt.Errorf("%w: session already invalidated", servlet.ErrIllegalState)
