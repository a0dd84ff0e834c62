// Package headers implements a case-insensitive, multi-valued header store
// with typed date and integer accessors.
package headers

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Store wraps http.Header; names are canonicalized on every access so lookups
// are case-insensitive.
type Store struct {
	h http.Header
}

// New returns an empty store.
func New() *Store {
	return &Store{h: make(http.Header)}
}

// From wraps an existing header map without copying it.
func From(h http.Header) *Store {
	if h == nil {
		h = make(http.Header)
	}
	return &Store{h: h}
}

// Get returns the first value for name, or "".
func (s *Store) Get(name string) string { return s.h.Get(name) }

// Values returns all values for name in the order they were added.
func (s *Store) Values(name string) []string {
	vs := s.h.Values(name)
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

func (s *Store) Contains(name string) bool {
	_, ok := s.h[http.CanonicalHeaderKey(name)]
	return ok
}

// Names returns the canonical header names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.h))
	for k := range s.h {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Set(name, value string) { s.h.Set(name, value) }

func (s *Store) Add(name, value string) { s.h.Add(name, value) }

func (s *Store) Del(name string) { s.h.Del(name) }

func (s *Store) SetDate(name string, t time.Time) { s.h.Set(name, t.UTC().Format(http.TimeFormat)) }

func (s *Store) AddDate(name string, t time.Time) { s.h.Add(name, t.UTC().Format(http.TimeFormat)) }

func (s *Store) SetInt(name string, v int) { s.h.Set(name, strconv.Itoa(v)) }

func (s *Store) AddInt(name string, v int) { s.h.Add(name, strconv.Itoa(v)) }

// Date parses the first value of name as an HTTP date. It returns the zero
// time when the header is absent.
func (s *Store) Date(name string) (time.Time, error) {
	v := s.h.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("header %s: invalid date %q: %w", name, v, err)
	}
	return t, nil
}

// Int parses the first value of name as a decimal integer. It returns -1 when
// the header is absent.
func (s *Store) Int(name string) (int, error) {
	v := s.h.Get(name)
	if v == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1, fmt.Errorf("header %s: invalid integer %q: %w", name, v, err)
	}
	return n, nil
}

// Clear removes every header.
func (s *Store) Clear() {
	for k := range s.h {
		delete(s.h, k)
	}
}

// CopyTo copies every value into dst, replacing existing values under the
// same names.
func (s *Store) CopyTo(dst http.Header) {
	for k, vs := range s.h {
		dst[k] = append([]string(nil), vs...)
	}
}
