package engine

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ggoodman/jerrymouse/internal/urlpattern"
	"github.com/ggoodman/jerrymouse/servlet"
)

var (
	_ servlet.ServletRegistration = (*ServletRegistration)(nil)
	_ servlet.FilterRegistration  = (*FilterRegistration)(nil)
	_ servlet.Config              = (*ServletRegistration)(nil)
	_ servlet.FilterConfig        = (*FilterRegistration)(nil)
)

// registration holds what servlet and filter registrations share. It is
// frozen when the owning context finishes initializing.
type registration struct {
	ctx       *Context
	name      string
	className string

	mu       sync.RWMutex
	params   map[string]string
	patterns []string
	frozen   bool
}

func (r *registration) Name() string      { return r.name }
func (r *registration) ClassName() string { return r.className }

func (r *registration) InitParameter(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params[name]
}

func (r *registration) InitParameterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.params))
	for k := range r.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *registration) InitParameters() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// SetInitParameter sets name unless it is already set, in which case it
// returns false and leaves the existing value.
func (r *registration) SetInitParameter(name, value string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("%w: empty init parameter name", servlet.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNotFrozen("SetInitParameter"); err != nil {
		return false, err
	}
	if _, ok := r.params[name]; ok {
		return false, nil
	}
	r.params[name] = value
	return true, nil
}

// SetInitParameters sets every parameter not already present and returns the
// names it skipped.
func (r *registration) SetInitParameters(params map[string]string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNotFrozen("SetInitParameters"); err != nil {
		return nil, err
	}
	for k := range params {
		if k == "" {
			return nil, fmt.Errorf("%w: empty init parameter name", servlet.ErrInvalidArgument)
		}
	}
	var conflicts []string
	for k, v := range params {
		if _, ok := r.params[k]; ok {
			conflicts = append(conflicts, k)
			continue
		}
		r.params[k] = v
	}
	sort.Strings(conflicts)
	return conflicts, nil
}

func (r *registration) addPatterns(op string, patterns []string) error {
	if len(patterns) == 0 {
		return fmt.Errorf("%w: %s needs at least one url pattern", servlet.ErrInvalidArgument, op)
	}
	for _, p := range patterns {
		if _, err := urlpattern.Parse(p); err != nil {
			return fmt.Errorf("%s %q: %w", op, r.name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNotFrozen(op); err != nil {
		return err
	}
	r.patterns = append(r.patterns, patterns...)
	return nil
}

func (r *registration) mappings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.patterns)
}

func (r *registration) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *registration) checkNotFrozen(op string) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot call %s on %q after initialization", servlet.ErrIllegalState, op, r.name)
	}
	return nil
}

// ServletRegistration binds a servlet to its name, patterns and parameters.
// It doubles as the servlet.Config handed to Init.
type ServletRegistration struct {
	registration
	servlet servlet.Servlet
}

func newServletRegistration(c *Context, name, className string, s servlet.Servlet) *ServletRegistration {
	if className == "" {
		className = fmt.Sprintf("%T", s)
	}
	return &ServletRegistration{
		registration: registration{ctx: c, name: name, className: className, params: map[string]string{}},
		servlet:      s,
	}
}

func (r *ServletRegistration) AddMapping(patterns ...string) error {
	return r.addPatterns("AddMapping", patterns)
}

func (r *ServletRegistration) Mappings() []string { return r.mappings() }

func (r *ServletRegistration) ServletName() string { return r.name }

func (r *ServletRegistration) ServletContext() servlet.Context { return r.ctx }

// FilterRegistration binds a filter to its name, patterns, dispatcher types
// and parameters. It doubles as the servlet.FilterConfig handed to Init.
type FilterRegistration struct {
	registration
	filter      servlet.Filter
	dispatchers []servlet.DispatcherType
}

func newFilterRegistration(c *Context, name, className string, f servlet.Filter) *FilterRegistration {
	if className == "" {
		className = fmt.Sprintf("%T", f)
	}
	return &FilterRegistration{
		registration: registration{ctx: c, name: name, className: className, params: map[string]string{}},
		filter:       f,
	}
}

// AddMappingForURLPatterns maps the filter to patterns for the given
// dispatcher types; nil types means DispatchRequest. Mappings are kept in
// registration order whatever isMatchAfter says.
func (r *FilterRegistration) AddMappingForURLPatterns(types []servlet.DispatcherType, isMatchAfter bool, patterns ...string) error {
	if err := r.addPatterns("AddMappingForURLPatterns", patterns); err != nil {
		return err
	}
	if len(types) == 0 {
		types = []servlet.DispatcherType{servlet.DispatchRequest}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		if !slices.Contains(r.dispatchers, t) {
			r.dispatchers = append(r.dispatchers, t)
		}
	}
	return nil
}

func (r *FilterRegistration) URLPatternMappings() []string { return r.mappings() }

func (r *FilterRegistration) DispatcherTypes() []servlet.DispatcherType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.dispatchers)
}

func (r *FilterRegistration) FilterName() string { return r.name }

func (r *FilterRegistration) ServletContext() servlet.Context { return r.ctx }

func (r *FilterRegistration) handles(t servlet.DispatcherType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.dispatchers, t)
}

// syntheticConfig is the servlet.Config of servlets the container installs
// itself.
type syntheticConfig struct {
	name string
	ctx  *Context
}

func (c syntheticConfig) ServletName() string             { return c.name }
func (c syntheticConfig) ServletContext() servlet.Context { return c.ctx }
func (c syntheticConfig) InitParameter(string) string     { return "" }
func (c syntheticConfig) InitParameterNames() []string    { return nil }
