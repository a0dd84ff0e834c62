package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/jerrymouse/config"
	"github.com/ggoodman/jerrymouse/internal/attrs"
	"github.com/ggoodman/jerrymouse/internal/logctx"
	"github.com/ggoodman/jerrymouse/internal/urlpattern"
	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/ggoodman/jerrymouse/sessions"
	"github.com/valyala/bytebufferpool"
)

// ErrDispatch wraps a *servlet.Error escaping a servlet or filter.
var ErrDispatch = errors.New("dispatch failed")

const defaultServletName = "DefaultServlet"

// fallbackMimeTypes is consulted when the configured table has no entry.
var fallbackMimeTypes = map[string]string{
	".html": "text/html",
	".txt":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
}

var _ servlet.Context = (*Context)(nil)

type servletMapping struct {
	pattern urlpattern.Pattern
	servlet servlet.Servlet
}

type filterMapping struct {
	name    string
	pattern urlpattern.Pattern
	reg     *FilterRegistration
}

// Context is the servlet context of the single web application a server
// hosts. It owns the registrations, mapping tables, listeners and session
// manager.
type Context struct {
	cfg     *config.Server
	webRoot string
	log     *slog.Logger
	attrs   attrs.Store

	sessions     *sessions.Manager
	sessionsOpts []sessions.Option

	// mu guards registration until the context is initialized. After that
	// the tables below are read without locking.
	mu              sync.Mutex
	started         atomic.Bool
	initialized     atomic.Bool
	servletRegs     []*ServletRegistration
	filterRegs      []*FilterRegistration
	listeners       listeners
	servletMappings []servletMapping
	filterMappings  []filterMapping
	active          []servlet.Servlet
	activeFilters   []servlet.Filter

	destroyOnce sync.Once
}

type Option func(*Context)

func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSessionOptions passes options through to the session manager.
func WithSessionOptions(opts ...sessions.Option) Option {
	return func(c *Context) { c.sessionsOpts = append(c.sessionsOpts, opts...) }
}

// NewContext creates a context serving files under webRoot. It starts the
// session sweeper; call Destroy to stop it.
func NewContext(cfg *config.Server, webRoot string, opts ...Option) *Context {
	c := &Context{
		cfg:     cfg,
		webRoot: webRoot,
		log:     slog.Default(),
		attrs:   attrs.NewConcurrent(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	smOpts := append([]sessions.Option{sessions.WithLogger(c.log)}, c.sessionsOpts...)
	c.sessions = sessions.NewManager(cfg.WebApp.SessionTimeout, sessionEvents{c: c}, smOpts...)
	return c
}

// Sessions exposes the session manager.
func (c *Context) Sessions() *sessions.Manager { return c.sessions }

// Initialize registers the components, initializes servlets and filters and
// freezes the mapping tables. It may only be called once.
func (c *Context) Initialize(ctx context.Context, components []servlet.Component) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: context already initialized", servlet.ErrIllegalState)
	}

	for _, comp := range components {
		if comp.Listener == nil {
			continue
		}
		v, err := instantiate(comp)
		if err != nil {
			c.log.ErrorContext(ctx, "listener.register.fail", slog.String("type", comp.Type), slog.String("err", err.Error()))
			continue
		}
		if err := c.AddListener(v); err != nil {
			c.log.ErrorContext(ctx, "listener.register.fail", slog.String("type", comp.Type), slog.String("err", err.Error()))
			continue
		}
		c.log.InfoContext(ctx, "listener.register", slog.String("type", comp.Type))
	}

	c.fireContextInitialized(ctx)

	for _, comp := range components {
		if comp.Servlet != nil {
			if err := c.registerServletComponent(comp); err != nil {
				c.log.ErrorContext(ctx, "servlet.register.fail", slog.String("type", comp.Type), slog.String("err", err.Error()))
			}
		}
		if comp.Filter != nil {
			if err := c.registerFilterComponent(comp); err != nil {
				c.log.ErrorContext(ctx, "filter.register.fail", slog.String("type", comp.Type), slog.String("err", err.Error()))
			}
		}
	}

	// Init runs without c.mu held so components may look up registrations.
	c.mu.Lock()
	servletRegs := slices.Clone(c.servletRegs)
	filterRegs := slices.Clone(c.filterRegs)
	c.mu.Unlock()

	var (
		servletMappings []servletMapping
		filterMappings  []filterMapping
		active          []servlet.Servlet
		activeFilters   []servlet.Filter
		hasDefault      bool
	)
	for _, reg := range servletRegs {
		if err := c.initServlet(ctx, reg.servlet, reg); err != nil {
			c.log.ErrorContext(ctx, "servlet.init.fail", slog.String("name", reg.name), slog.String("class", reg.className), slog.String("err", err.Error()))
			continue
		}
		active = append(active, reg.servlet)
		for _, raw := range reg.mappings() {
			p := urlpattern.MustParse(raw)
			if p.Kind == urlpattern.Default {
				if hasDefault {
					c.log.WarnContext(ctx, "servlet.default.duplicate", slog.String("name", reg.name), slog.String("class", reg.className))
					continue
				}
				hasDefault = true
				c.log.InfoContext(ctx, "servlet.default", slog.String("name", reg.name))
			}
			servletMappings = append(servletMappings, servletMapping{pattern: p, servlet: reg.servlet})
		}
	}

	if !hasDefault && c.cfg.WebApp.FileListings {
		ds := newDefaultServlet(c.log)
		if err := c.initServlet(ctx, ds, syntheticConfig{name: defaultServletName, ctx: c}); err != nil {
			c.log.ErrorContext(ctx, "servlet.init.fail", slog.String("name", defaultServletName), slog.String("err", err.Error()))
		} else {
			c.log.InfoContext(ctx, "servlet.default.builtin")
			active = append(active, ds)
			servletMappings = append(servletMappings, servletMapping{pattern: urlpattern.MustParse("/"), servlet: ds})
		}
	}

	for _, reg := range filterRegs {
		if err := c.initFilter(ctx, reg); err != nil {
			c.log.ErrorContext(ctx, "filter.init.fail", slog.String("name", reg.name), slog.String("class", reg.className), slog.String("err", err.Error()))
			continue
		}
		activeFilters = append(activeFilters, reg.filter)
		for _, raw := range reg.mappings() {
			filterMappings = append(filterMappings, filterMapping{name: reg.name, pattern: urlpattern.MustParse(raw), reg: reg})
		}
	}

	sort.SliceStable(servletMappings, func(i, j int) bool {
		return urlpattern.Less(servletMappings[i].pattern, servletMappings[j].pattern)
	})
	sort.SliceStable(filterMappings, func(i, j int) bool {
		a, b := filterMappings[i], filterMappings[j]
		if a.name != b.name {
			return a.name < b.name
		}
		return urlpattern.Less(a.pattern, b.pattern)
	})

	c.mu.Lock()
	for _, reg := range c.servletRegs {
		reg.freeze()
	}
	for _, reg := range c.filterRegs {
		reg.freeze()
	}
	c.servletMappings = servletMappings
	c.filterMappings = filterMappings
	c.active = active
	c.activeFilters = activeFilters
	c.initialized.Store(true)
	c.mu.Unlock()

	c.log.InfoContext(ctx, "context.initialized",
		slog.Int("servlets", len(active)),
		slog.Int("filters", len(activeFilters)),
		slog.Int("servlet_mappings", len(servletMappings)),
		slog.Int("filter_mappings", len(filterMappings)),
	)
	return nil
}

func (c *Context) registerServletComponent(comp servlet.Component) error {
	v, err := instantiate(comp)
	if err != nil {
		return err
	}
	s, ok := v.(servlet.Servlet)
	if !ok {
		return fmt.Errorf("%w: %s does not implement servlet.Servlet", servlet.ErrInvalidArgument, describe(comp, v))
	}
	name := comp.Servlet.Name
	if name == "" {
		name = comp.Type
	}
	reg := newServletRegistration(c, name, comp.Type, s)
	if err := reg.AddMapping(comp.Servlet.URLPatterns...); err != nil {
		return err
	}
	if _, err := reg.SetInitParameters(comp.Servlet.InitParams); err != nil {
		return err
	}
	return c.insertServlet(reg)
}

func (c *Context) registerFilterComponent(comp servlet.Component) error {
	v, err := instantiate(comp)
	if err != nil {
		return err
	}
	f, ok := v.(servlet.Filter)
	if !ok {
		return fmt.Errorf("%w: %s does not implement servlet.Filter", servlet.ErrInvalidArgument, describe(comp, v))
	}
	name := comp.Filter.Name
	if name == "" {
		name = comp.Type
	}
	reg := newFilterRegistration(c, name, comp.Type, f)
	if err := reg.AddMappingForURLPatterns(comp.Filter.DispatcherTypes, true, comp.Filter.URLPatterns...); err != nil {
		return err
	}
	if _, err := reg.SetInitParameters(comp.Filter.InitParams); err != nil {
		return err
	}
	return c.insertFilter(reg)
}

func (c *Context) initServlet(ctx context.Context, s servlet.Servlet, cfg servlet.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panicked: %v", r)
		}
	}()
	ctx = logctx.WithComponentData(ctx, &logctx.ComponentData{Kind: "servlet", Name: cfg.ServletName()})
	c.log.DebugContext(ctx, "servlet.init")
	return s.Init(cfg)
}

func (c *Context) initFilter(ctx context.Context, reg *FilterRegistration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panicked: %v", r)
		}
	}()
	ctx = logctx.WithComponentData(ctx, &logctx.ComponentData{Kind: "filter", Name: reg.name})
	c.log.DebugContext(ctx, "filter.init")
	return reg.filter.Init(reg)
}

func instantiate(comp servlet.Component) (v any, err error) {
	if comp.New == nil {
		return nil, fmt.Errorf("%w: component %q has no factory", servlet.ErrInvalidArgument, comp.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("instantiate %q: %v", comp.Type, r)
		}
	}()
	v = comp.New()
	if v == nil {
		return nil, fmt.Errorf("%w: factory of %q returned nil", servlet.ErrInvalidArgument, comp.Type)
	}
	return v, nil
}

func describe(comp servlet.Component, v any) string {
	if comp.Type != "" {
		return comp.Type
	}
	return fmt.Sprintf("%T", v)
}

// Process dispatches one request through the matching filters to the
// matching servlet.
func (c *Context) Process(req *Request, resp *Response) error {
	if !c.initialized.Load() {
		return fmt.Errorf("%w: context not initialized", servlet.ErrIllegalState)
	}
	ctx := req.Context()
	path := req.RequestURI()

	var target servlet.Servlet
	for _, m := range c.servletMappings {
		if m.pattern.Matches(path) {
			target = m.servlet
			break
		}
	}
	if target == nil {
		return c.notFound(resp, path)
	}

	var filters []servlet.Filter
	for _, m := range c.filterMappings {
		if m.pattern.Matches(path) && m.reg.handles(servlet.DispatchRequest) {
			filters = append(filters, m.reg.filter)
		}
	}

	c.log.DebugContext(ctx, "context.process", slog.String("servlet", fmt.Sprintf("%T", target)), slog.Int("filters", len(filters)))

	chain := newFilterChain(filters, target)

	c.fireRequestInitialized(req)
	defer c.fireRequestDestroyed(req)

	if err := chain.DoFilter(req, resp); err != nil {
		var se *servlet.Error
		if errors.As(err, &se) {
			c.log.ErrorContext(ctx, "context.process.fail", slog.String("err", err.Error()))
			return fmt.Errorf("%w: %w", ErrDispatch, err)
		}
		c.log.ErrorContext(ctx, "context.process.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// notFound writes the 404 body. The status line keeps its current value.
func (c *Context) notFound(resp *Response, path string) error {
	w, err := resp.Writer()
	if err != nil {
		return err
	}
	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	b.WriteString("<h1>404 Not Found</h1><p>No mapping for URL: ")
	b.WriteString(html.EscapeString(path))
	b.WriteString("</p>")
	if _, err := w.Write(b.B); err != nil {
		return err
	}
	return w.Flush()
}

// Destroy shuts down filters and servlets, notifies context listeners and
// stops the session manager. Later calls do nothing.
func (c *Context) Destroy(ctx context.Context) {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		filters := c.activeFilters
		servlets := c.active
		c.mu.Unlock()

		for _, f := range filters {
			c.destroyComponent(ctx, "filter", f, f.Destroy)
		}
		for _, s := range servlets {
			c.destroyComponent(ctx, "servlet", s, s.Destroy)
		}
		c.fireContextDestroyed(ctx)
		c.sessions.Close()
		c.log.InfoContext(ctx, "context.destroyed")
	})
}

func (c *Context) destroyComponent(ctx context.Context, kind string, v any, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.ErrorContext(ctx, kind+".destroy.fail", slog.String("class", fmt.Sprintf("%T", v)), slog.Any("panic", r))
		}
	}()
	fn()
}

func (c *Context) ContextPath() string { return "" }

func (c *Context) MajorVersion() int { return 5 }

func (c *Context) MinorVersion() int { return 0 }

func (c *Context) ServerInfo() string { return c.cfg.Name }

func (c *Context) ServletContextName() string { return c.cfg.WebApp.Name }

func (c *Context) VirtualServerName() string { return c.cfg.WebApp.VirtualServerName }

// MimeType returns the media type for file's extension from the configured
// table, a small built-in table, then the configured default.
func (c *Context) MimeType(file string) string {
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		ext := strings.ToLower(file[i:])
		if mt, ok := c.cfg.MimeTypes[ext]; ok {
			return mt
		}
		if mt, ok := fallbackMimeTypes[ext]; ok {
			return mt
		}
	}
	if c.cfg.MimeDefault != "" {
		return c.cfg.MimeDefault
	}
	return "application/octet-stream"
}

func (c *Context) RealPath(p string) string {
	if c.webRoot == "" {
		return ""
	}
	root := filepath.Clean(c.webRoot)
	loc := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	rel, err := filepath.Rel(root, loc)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return loc
}

// The context has no init parameters.
func (c *Context) InitParameter(string) string  { return "" }
func (c *Context) InitParameterNames() []string { return nil }

func (c *Context) Attribute(name string) any { return c.attrs.Get(name) }

func (c *Context) AttributeNames() []string { return c.attrs.Names() }

// SetAttribute stores value under name; a nil value removes it.
func (c *Context) SetAttribute(name string, value any) {
	if value == nil {
		c.RemoveAttribute(name)
		return
	}
	if prior := c.attrs.Set(name, value); prior != nil {
		c.fireContextAttributeReplaced(name, value)
	} else {
		c.fireContextAttributeAdded(name, value)
	}
}

func (c *Context) RemoveAttribute(name string) {
	prior := c.attrs.Remove(name)
	c.fireContextAttributeRemoved(name, prior)
}

func (c *Context) AddServlet(name string, s servlet.Servlet) (servlet.ServletRegistration, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty servlet name", servlet.ErrInvalidArgument)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: nil servlet %q", servlet.ErrInvalidArgument, name)
	}
	reg := newServletRegistration(c, name, "", s)
	if err := c.insertServlet(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (c *Context) insertServlet(reg *ServletRegistration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() {
		return fmt.Errorf("%w: cannot add servlet %q after initialization", servlet.ErrIllegalState, reg.name)
	}
	for _, r := range c.servletRegs {
		if r.name == reg.name {
			return fmt.Errorf("%w: servlet %q already registered", servlet.ErrInvalidArgument, reg.name)
		}
	}
	c.servletRegs = append(c.servletRegs, reg)
	return nil
}

func (c *Context) AddFilter(name string, f servlet.Filter) (servlet.FilterRegistration, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty filter name", servlet.ErrInvalidArgument)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: nil filter %q", servlet.ErrInvalidArgument, name)
	}
	reg := newFilterRegistration(c, name, "", f)
	if err := c.insertFilter(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (c *Context) insertFilter(reg *FilterRegistration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() {
		return fmt.Errorf("%w: cannot add filter %q after initialization", servlet.ErrIllegalState, reg.name)
	}
	for _, r := range c.filterRegs {
		if r.name == reg.name {
			return fmt.Errorf("%w: filter %q already registered", servlet.ErrInvalidArgument, reg.name)
		}
	}
	c.filterRegs = append(c.filterRegs, reg)
	return nil
}

// AddListener registers l for every listener interface it implements.
func (c *Context) AddListener(l any) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", servlet.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() {
		return fmt.Errorf("%w: cannot add listener after initialization", servlet.ErrIllegalState)
	}
	if !c.listeners.add(l) {
		return fmt.Errorf("%w: %T implements no listener interface", servlet.ErrInvalidArgument, l)
	}
	return nil
}

func (c *Context) ServletRegistration(name string) (servlet.ServletRegistration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.servletRegs {
		if r.name == name {
			return r, true
		}
	}
	return nil, false
}

func (c *Context) ServletRegistrations() map[string]servlet.ServletRegistration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]servlet.ServletRegistration, len(c.servletRegs))
	for _, r := range c.servletRegs {
		out[r.name] = r
	}
	return out
}

func (c *Context) FilterRegistration(name string) (servlet.FilterRegistration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.filterRegs {
		if r.name == name {
			return r, true
		}
	}
	return nil, false
}

func (c *Context) FilterRegistrations() map[string]servlet.FilterRegistration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]servlet.FilterRegistration, len(c.filterRegs))
	for _, r := range c.filterRegs {
		out[r.name] = r
	}
	return out
}

func (c *Context) SessionTimeout() (time.Duration, error) {
	return 0, fmt.Errorf("%w: SessionTimeout", servlet.ErrUnsupported)
}

func (c *Context) SetSessionTimeout(time.Duration) error {
	return fmt.Errorf("%w: SetSessionTimeout", servlet.ErrUnsupported)
}

func (c *Context) Log(msg string, args ...any) {
	c.log.Info(msg, args...)
}
