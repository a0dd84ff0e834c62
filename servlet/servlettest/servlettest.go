// Package servlettest provides test doubles for code built on the servlet
// package: a listener that records every event and servlet and filter mocks
// that count their lifecycle calls.
package servlettest

import (
	"strings"
	"sync"

	"github.com/ggoodman/jerrymouse/servlet"
)

// Recorder implements every listener interface and keeps the events it
// receives in arrival order. Event names look like "request.initialized" or
// "session.attribute.added:name".
type Recorder struct {
	mu     sync.Mutex
	events []string
}

var (
	_ servlet.ContextListener          = (*Recorder)(nil)
	_ servlet.ContextAttributeListener = (*Recorder)(nil)
	_ servlet.RequestListener          = (*Recorder)(nil)
	_ servlet.RequestAttributeListener = (*Recorder)(nil)
	_ servlet.SessionListener          = (*Recorder)(nil)
	_ servlet.SessionAttributeListener = (*Recorder)(nil)
)

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many recorded events start with prefix.
func (r *Recorder) Count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if strings.HasPrefix(ev, prefix) {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *Recorder) ContextInitialized(servlet.ContextEvent) { r.record("context.initialized") }
func (r *Recorder) ContextDestroyed(servlet.ContextEvent)   { r.record("context.destroyed") }

func (r *Recorder) ContextAttributeAdded(ev servlet.ContextAttributeEvent) {
	r.record("context.attribute.added:" + ev.Name)
}
func (r *Recorder) ContextAttributeRemoved(ev servlet.ContextAttributeEvent) {
	r.record("context.attribute.removed:" + ev.Name)
}
func (r *Recorder) ContextAttributeReplaced(ev servlet.ContextAttributeEvent) {
	r.record("context.attribute.replaced:" + ev.Name)
}

func (r *Recorder) RequestInitialized(servlet.RequestEvent) { r.record("request.initialized") }
func (r *Recorder) RequestDestroyed(servlet.RequestEvent)   { r.record("request.destroyed") }

func (r *Recorder) RequestAttributeAdded(ev servlet.RequestAttributeEvent) {
	r.record("request.attribute.added:" + ev.Name)
}
func (r *Recorder) RequestAttributeRemoved(ev servlet.RequestAttributeEvent) {
	r.record("request.attribute.removed:" + ev.Name)
}
func (r *Recorder) RequestAttributeReplaced(ev servlet.RequestAttributeEvent) {
	r.record("request.attribute.replaced:" + ev.Name)
}

func (r *Recorder) SessionCreated(servlet.SessionEvent)   { r.record("session.created") }
func (r *Recorder) SessionDestroyed(servlet.SessionEvent) { r.record("session.destroyed") }

func (r *Recorder) SessionAttributeAdded(ev servlet.SessionAttributeEvent) {
	r.record("session.attribute.added:" + ev.Name)
}
func (r *Recorder) SessionAttributeRemoved(ev servlet.SessionAttributeEvent) {
	r.record("session.attribute.removed:" + ev.Name)
}
func (r *Recorder) SessionAttributeReplaced(ev servlet.SessionAttributeEvent) {
	r.record("session.attribute.replaced:" + ev.Name)
}

// MockServlet is a configurable servlet that counts lifecycle calls.
type MockServlet struct {
	mu       sync.Mutex
	inits    int
	destroys int
	cfg      servlet.Config

	initErr error
	handler servlet.Func
}

// Option configures MockServlet.
type Option func(*MockServlet)

// WithInitError makes Init fail with err.
func WithInitError(err error) Option {
	return func(m *MockServlet) { m.initErr = err }
}

// WithHandler sets the function Service delegates to.
func WithHandler(fn servlet.Func) Option {
	return func(m *MockServlet) { m.handler = fn }
}

// NewMockServlet creates a servlet that answers nothing unless a handler is
// configured.
func NewMockServlet(opts ...Option) *MockServlet {
	m := &MockServlet{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockServlet) Init(cfg servlet.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	m.cfg = cfg
	return m.initErr
}

func (m *MockServlet) Service(req servlet.Request, resp servlet.Response) error {
	if m.handler == nil {
		return nil
	}
	return m.handler(req, resp)
}

func (m *MockServlet) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroys++
}

// Config returns the config passed to the last Init call.
func (m *MockServlet) Config() servlet.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *MockServlet) Inits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

func (m *MockServlet) Destroys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroys
}

// HeaderFilter sets a response header and continues the chain.
func HeaderFilter(name, value string) servlet.FilterFunc {
	return func(req servlet.Request, resp servlet.Response, chain servlet.FilterChain) error {
		if err := resp.SetHeader(name, value); err != nil {
			return err
		}
		return chain.DoFilter(req, resp)
	}
}

// TextServlet answers every request with body as text/plain.
func TextServlet(body string) servlet.Func {
	return func(req servlet.Request, resp servlet.Response) error {
		if err := resp.SetContentType("text/plain"); err != nil {
			return err
		}
		w, err := resp.Writer()
		if err != nil {
			return err
		}
		if _, err := w.WriteString(body); err != nil {
			return err
		}
		return w.Flush()
	}
}
