package servlet

import (
	"net/http"
)

// Servlet handles requests routed to it by URL pattern.
type Servlet interface {
	// Init is called exactly once before the servlet receives requests. A
	// servlet returning an error is skipped and never mapped.
	Init(cfg Config) error

	Service(req Request, resp Response) error

	// Destroy is called once on context shutdown for servlets that were
	// successfully initialized.
	Destroy()
}

// Filter pre- and post-processes requests around a servlet.
type Filter interface {
	Init(cfg FilterConfig) error

	// DoFilter processes the request and, to continue the pipeline, calls
	// chain.DoFilter at most once.
	DoFilter(req Request, resp Response, chain FilterChain) error

	Destroy()
}

// FilterChain is the remainder of the pipeline as seen by a filter.
type FilterChain interface {
	DoFilter(req Request, resp Response) error
}

// Config is the configuration handed to Servlet.Init.
type Config interface {
	ServletName() string
	ServletContext() Context
	InitParameter(name string) string
	InitParameterNames() []string
}

// FilterConfig is the configuration handed to Filter.Init.
type FilterConfig interface {
	FilterName() string
	ServletContext() Context
	InitParameter(name string) string
	InitParameterNames() []string
}

// DispatcherType names the kind of dispatch a filter mapping applies to.
type DispatcherType string

const (
	DispatchRequest DispatcherType = "REQUEST"
	DispatchForward DispatcherType = "FORWARD"
	DispatchInclude DispatcherType = "INCLUDE"
	DispatchError   DispatcherType = "ERROR"
)

// Func adapts an ordinary function to a Servlet with no-op lifecycle.
type Func func(req Request, resp Response) error

func (f Func) Init(Config) error                         { return nil }
func (f Func) Service(req Request, resp Response) error { return f(req, resp) }
func (f Func) Destroy()                                  {}

// FilterFunc adapts an ordinary function to a Filter with no-op lifecycle.
type FilterFunc func(req Request, resp Response, chain FilterChain) error

func (f FilterFunc) Init(FilterConfig) error { return nil }
func (f FilterFunc) DoFilter(req Request, resp Response, chain FilterChain) error {
	return f(req, resp, chain)
}
func (f FilterFunc) Destroy() {}

// HTTPServlet dispatches on the request method. Methods without a handler are
// answered with 405 Method Not Allowed. HEAD falls back to Get when Head is
// nil. Embed it or use it directly as a Servlet value.
type HTTPServlet struct {
	Get    Func
	Head   Func
	Post   Func
	Put    Func
	Patch  Func
	Delete Func

	// OnInit, when set, is called from Init.
	OnInit func(cfg Config) error

	cfg Config
}

func (s *HTTPServlet) Init(cfg Config) error {
	s.cfg = cfg
	if s.OnInit != nil {
		return s.OnInit(cfg)
	}
	return nil
}

// ServletConfig returns the config passed to Init.
func (s *HTTPServlet) ServletConfig() Config { return s.cfg }

func (s *HTTPServlet) Service(req Request, resp Response) error {
	var h Func
	switch req.Method() {
	case http.MethodGet:
		h = s.Get
	case http.MethodHead:
		h = s.Head
		if h == nil {
			h = s.Get
		}
	case http.MethodPost:
		h = s.Post
	case http.MethodPut:
		h = s.Put
	case http.MethodPatch:
		h = s.Patch
	case http.MethodDelete:
		h = s.Delete
	}
	if h == nil {
		return resp.SendError(http.StatusMethodNotAllowed, "method "+req.Method()+" is not supported")
	}
	return h(req, resp)
}

func (s *HTTPServlet) Destroy() {}
