package engine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ggoodman/jerrymouse/config"
	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/ggoodman/jerrymouse/servlet/servlettest"
)

func TestMissingMappingWrites404Body(t *testing.T) {
	c := newTestContext(t, nil)
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := http.StatusOK, rec.Code; want != got {
		t.Fatalf("expected status %d, got %d", want, got)
	}
	if want, got := "<h1>404 Not Found</h1><p>No mapping for URL: /missing</p>", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
}

func TestMissingMappingEscapesPath(t *testing.T) {
	c := newTestContext(t, nil)
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/%3Cscript%3Ealert(1)%3C/script%3E", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "<h1>404 Not Found</h1><p>No mapping for URL: /&lt;script&gt;alert(1)&lt;/script&gt;</p>", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
}

func TestServletAnswers(t *testing.T) {
	c := newTestContext(t, nil)
	err := c.Initialize(t.Context(), []servlet.Component{{
		Type:    "test.Hello",
		New:     func() any { return servlettest.TextServlet("hi") },
		Servlet: &servlet.WebServlet{URLPatterns: []string{"/hello"}},
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/hello?x=1", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "hi", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
	if want, got := "text/plain", rec.Header().Get("Content-Type"); want != got {
		t.Fatalf("expected content type %q, got %q", want, got)
	}
}

func TestFilterAddsHeader(t *testing.T) {
	c := newTestContext(t, nil)
	err := c.Initialize(t.Context(), []servlet.Component{
		{
			Type:    "test.Hello",
			New:     func() any { return servlettest.TextServlet("hi") },
			Servlet: &servlet.WebServlet{URLPatterns: []string{"/hello"}},
		},
		{
			Type:   "test.Header",
			New:    func() any { return servlettest.HeaderFilter("X-F", "1") },
			Filter: &servlet.WebFilter{URLPatterns: []string{"/*"}},
		},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "1", rec.Header().Get("X-F"); want != got {
		t.Fatalf("expected X-F %q, got %q", want, got)
	}
	if want, got := "hi", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
}

func TestFiltersRunInNameOrder(t *testing.T) {
	c := newTestContext(t, nil)
	appendHeader := func(v string) servlet.FilterFunc {
		return func(req servlet.Request, resp servlet.Response, chain servlet.FilterChain) error {
			if err := resp.AddHeader("X-Order", v); err != nil {
				return err
			}
			return chain.DoFilter(req, resp)
		}
	}
	if _, err := c.AddServlet("hello", servlettest.TextServlet("hi")); err != nil {
		t.Fatalf("add servlet: %v", err)
	}
	reg, _ := c.ServletRegistration("hello")
	if err := reg.(*ServletRegistration).AddMapping("/hello"); err != nil {
		t.Fatalf("add mapping: %v", err)
	}
	for _, name := range []string{"b", "a"} {
		fr, err := c.AddFilter(name, appendHeader(name))
		if err != nil {
			t.Fatalf("add filter: %v", err)
		}
		if err := fr.AddMappingForURLPatterns(nil, true, "/*"); err != nil {
			t.Fatalf("add filter mapping: %v", err)
		}
	}
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "a,b", strings.Join(rec.Header().Values("X-Order"), ","); want != got {
		t.Fatalf("expected filter order %q, got %q", want, got)
	}
}

func TestSessionSurvivesAcrossRequests(t *testing.T) {
	c := newTestContext(t, nil)
	counter := servlet.Func(func(req servlet.Request, resp servlet.Response) error {
		s, err := req.Session(true)
		if err != nil {
			return err
		}
		v, err := s.Attribute("count")
		if err != nil {
			return err
		}
		n, _ := v.(int)
		n++
		if err := s.SetAttribute("count", n); err != nil {
			return err
		}
		w, err := resp.Writer()
		if err != nil {
			return err
		}
		_, err = w.WriteString(strconv.Itoa(n))
		return err
	})
	if _, err := c.AddServlet("counter", counter); err != nil {
		t.Fatalf("add servlet: %v", err)
	}
	reg, _ := c.ServletRegistration("counter")
	if err := reg.(*ServletRegistration).AddMapping("/count"); err != nil {
		t.Fatalf("add mapping: %v", err)
	}
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	first, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/count", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "1", first.Body.String(); want != got {
		t.Fatalf("expected first body %q, got %q", want, got)
	}
	cookies := first.Result().Cookies()
	if want, got := 1, len(cookies); want != got {
		t.Fatalf("expected %d cookie, got %d", want, got)
	}
	if want, got := "JSESSIONID", cookies[0].Name; want != got {
		t.Fatalf("expected cookie %q, got %q", want, got)
	}

	r := httptest.NewRequest(http.MethodGet, "/count", nil)
	r.Header.Set("Cookie", "JSESSIONID="+cookies[0].Value)
	second, err := serve(t, c, r)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "2", second.Body.String(); want != got {
		t.Fatalf("expected second body %q, got %q", want, got)
	}
	if got := second.Header().Values("Set-Cookie"); len(got) != 0 {
		t.Fatalf("expected no new cookie, got %v", got)
	}
	if want, got := 1, c.Sessions().Len(); want != got {
		t.Fatalf("expected %d session, got %d", want, got)
	}
}

func TestRedirectCommitsWithoutBody(t *testing.T) {
	c := newTestContext(t, nil)
	err := c.Initialize(t.Context(), []servlet.Component{{
		Type: "test.Redirect",
		New: func() any {
			return servlet.Func(func(req servlet.Request, resp servlet.Response) error {
				return resp.SendRedirect("/login")
			})
		},
		Servlet: &servlet.WebServlet{URLPatterns: []string{"/private/*"}},
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/private/page", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := http.StatusFound, rec.Code; want != got {
		t.Fatalf("expected status %d, got %d", want, got)
	}
	if want, got := "/login", rec.Header().Get("Location"); want != got {
		t.Fatalf("expected location %q, got %q", want, got)
	}
	if got := rec.Body.Len(); got != 0 {
		t.Fatalf("expected empty body, got %d bytes", got)
	}
}

func TestStatusAfterCommitFails(t *testing.T) {
	c := newTestContext(t, nil)
	var statusErr error
	err := c.Initialize(t.Context(), []servlet.Component{{
		Type: "test.Late",
		New: func() any {
			return servlet.Func(func(req servlet.Request, resp servlet.Response) error {
				w, err := resp.Writer()
				if err != nil {
					return err
				}
				if _, err := w.WriteString("body"); err != nil {
					return err
				}
				statusErr = resp.SetStatus(http.StatusInternalServerError)
				return nil
			})
		},
		Servlet: &servlet.WebServlet{URLPatterns: []string{"/late"}},
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/late", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !errors.Is(statusErr, servlet.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState, got %v", statusErr)
	}
	if want, got := http.StatusOK, rec.Code; want != got {
		t.Fatalf("expected status %d on the wire, got %d", want, got)
	}
	if want, got := "body", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
}

func TestMappingPrecedence(t *testing.T) {
	c := newTestContext(t, nil)
	comp := func(name string, patterns ...string) servlet.Component {
		return servlet.Component{
			Type:    "test." + name,
			New:     func() any { return servlettest.TextServlet(name) },
			Servlet: &servlet.WebServlet{Name: name, URLPatterns: patterns},
		}
	}
	err := c.Initialize(t.Context(), []servlet.Component{
		comp("default", "/"),
		comp("ext", "*.jsp"),
		comp("prefix", "/app/*"),
		comp("longer", "/app/admin/*"),
		comp("exact", "/app/index.jsp"),
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/app/index.jsp", "exact"},
		{"/app/admin/users", "longer"},
		{"/app/other.jsp", "prefix"},
		{"/shop/cart.jsp", "ext"},
		{"/anything", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if want, got := tt.want, rec.Body.String(); want != got {
				t.Fatalf("expected servlet %q, got %q", want, got)
			}
		})
	}
}

func TestDuplicateDefaultKeepsFirst(t *testing.T) {
	c := newTestContext(t, nil)
	err := c.Initialize(t.Context(), []servlet.Component{
		{Type: "test.One", New: func() any { return servlettest.TextServlet("one") }, Servlet: &servlet.WebServlet{URLPatterns: []string{"/"}}},
		{Type: "test.Two", New: func() any { return servlettest.TextServlet("two") }, Servlet: &servlet.WebServlet{URLPatterns: []string{"/"}}},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/x", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "one", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
}

func TestInitFailureSkipsServlet(t *testing.T) {
	c := newTestContext(t, nil)
	broken := servlettest.NewMockServlet(servlettest.WithInitError(errors.New("nope")))
	panicky := servlet.Component{
		Type:    "test.Panicky",
		New:     func() any { return &panicServlet{} },
		Servlet: &servlet.WebServlet{URLPatterns: []string{"/panic"}},
	}
	err := c.Initialize(t.Context(), []servlet.Component{
		{Type: "test.Broken", New: func() any { return broken }, Servlet: &servlet.WebServlet{URLPatterns: []string{"/broken"}}},
		panicky,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	for _, path := range []string{"/broken", "/panic"} {
		rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("process %s: %v", path, err)
		}
		if !strings.HasPrefix(rec.Body.String(), "<h1>404 Not Found</h1>") {
			t.Fatalf("expected 404 body for %s, got %q", path, rec.Body.String())
		}
	}

	c.Destroy(t.Context())
	if want, got := 0, broken.Destroys(); want != got {
		t.Fatalf("expected failed servlet not to be destroyed, got %d destroys", got)
	}
}

type panicServlet struct{ servlet.Func }

func (p *panicServlet) Init(servlet.Config) error { panic("init exploded") }

func TestServletErrorIsWrapped(t *testing.T) {
	c := newTestContext(t, nil)
	cause := errors.New("db down")
	err := c.Initialize(t.Context(), []servlet.Component{{
		Type: "test.Failing",
		New: func() any {
			return servlet.Func(func(servlet.Request, servlet.Response) error {
				return servlet.NewError("lookup failed", cause)
			})
		},
		Servlet: &servlet.WebServlet{URLPatterns: []string{"/fail"}},
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err = serve(t, c, httptest.NewRequest(http.MethodGet, "/fail", nil))
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	var se *servlet.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *servlet.Error in chain, got %T", err)
	}
}

func TestLifecycleGuards(t *testing.T) {
	c := newTestContext(t, nil)

	_, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState before initialize, got %v", err)
	}

	if _, err := c.AddServlet("s", servlettest.TextServlet("s")); err != nil {
		t.Fatalf("add servlet: %v", err)
	}
	if _, err := c.AddServlet("s", servlettest.TextServlet("s")); !errors.Is(err, servlet.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for duplicate name, got %v", err)
	}
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := c.Initialize(t.Context(), nil); !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState on second initialize, got %v", err)
	}
	if _, err := c.AddServlet("late", servlettest.TextServlet("late")); !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState after initialize, got %v", err)
	}
	if err := c.AddListener(servlettest.NewRecorder()); !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected ErrIllegalState for late listener, got %v", err)
	}

	reg, ok := c.ServletRegistration("s")
	if !ok {
		t.Fatalf("expected registration for s")
	}
	if _, err := reg.SetInitParameter("k", "v"); !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected frozen registration, got %v", err)
	}
	if err := reg.(*ServletRegistration).AddMapping("/s"); !errors.Is(err, servlet.ErrIllegalState) {
		t.Fatalf("expected frozen mappings, got %v", err)
	}
}

func TestRegistrationInitParameters(t *testing.T) {
	c := newTestContext(t, nil)
	m := servlettest.NewMockServlet()
	err := c.Initialize(t.Context(), []servlet.Component{{
		Type: "test.Configured",
		New:  func() any { return m },
		Servlet: &servlet.WebServlet{
			Name:        "configured",
			URLPatterns: []string{"/c"},
			InitParams:  map[string]string{"greeting": "hello", "target": "world"},
		},
	}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cfg := m.Config()
	if want, got := "configured", cfg.ServletName(); want != got {
		t.Fatalf("expected servlet name %q, got %q", want, got)
	}
	if want, got := "world", cfg.InitParameter("target"); want != got {
		t.Fatalf("expected target %q, got %q", want, got)
	}
	if want, got := "greeting,target", strings.Join(cfg.InitParameterNames(), ","); want != got {
		t.Fatalf("expected names %q, got %q", want, got)
	}
	if want, got := "test.Configured", c.ServletRegistrations()["configured"].ClassName(); want != got {
		t.Fatalf("expected class name %q, got %q", want, got)
	}
}

func TestSetInitParameterKeepsExisting(t *testing.T) {
	c := newTestContext(t, nil)
	reg, err := c.AddServlet("s", servlettest.NewMockServlet())
	if err != nil {
		t.Fatalf("add servlet: %v", err)
	}
	if ok, err := reg.SetInitParameter("a", "1"); err != nil || !ok {
		t.Fatalf("expected first set to succeed, got %v %v", ok, err)
	}
	if ok, err := reg.SetInitParameter("a", "2"); err != nil || ok {
		t.Fatalf("expected second set to be refused, got %v %v", ok, err)
	}
	conflicts, err := reg.SetInitParameters(map[string]string{"a": "3", "b": "4"})
	if err != nil {
		t.Fatalf("set init parameters: %v", err)
	}
	if want, got := "a", strings.Join(conflicts, ","); want != got {
		t.Fatalf("expected conflicts %q, got %q", want, got)
	}
	if want, got := "1", reg.InitParameter("a"); want != got {
		t.Fatalf("expected a=%q, got %q", want, got)
	}
	if _, err := reg.SetInitParameter("", "x"); !errors.Is(err, servlet.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty name, got %v", err)
	}
	if err := reg.AddMapping("no-slash"); !errors.Is(err, servlet.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for malformed pattern, got %v", err)
	}
}

func TestListenerEvents(t *testing.T) {
	c := newTestContext(t, nil)
	rec := servlettest.NewRecorder()
	err := c.Initialize(t.Context(), []servlet.Component{
		{Type: "test.Boom", New: func() any { return &panicListener{} }, Listener: &servlet.WebListener{}},
		{Type: "test.Recorder", New: func() any { return rec }, Listener: &servlet.WebListener{}},
		{
			Type: "test.Attrs",
			New: func() any {
				return servlet.Func(func(req servlet.Request, resp servlet.Response) error {
					req.SetAttribute("x", 1)
					req.SetAttribute("x", 2)
					req.RemoveAttribute("x")
					_, err := req.Session(true)
					return err
				})
			},
			Servlet: &servlet.WebServlet{URLPatterns: []string{"/a"}},
		},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/a", nil)); err != nil {
		t.Fatalf("process: %v", err)
	}
	c.SetAttribute("app", "v")
	c.Destroy(t.Context())

	want := []string{
		"context.initialized",
		"request.initialized",
		"request.attribute.added:x",
		"request.attribute.replaced:x",
		"request.attribute.removed:x",
		"session.created",
		"request.destroyed",
		"context.attribute.added:app",
		"context.destroyed",
	}
	got := rec.Events()
	if strings.Join(want, "\n") != strings.Join(got, "\n") {
		t.Fatalf("expected events\n%v\ngot\n%v", want, got)
	}
}

// panicListener panics on every request event; the recorder registered after
// it must still be notified.
type panicListener struct{}

func (panicListener) RequestInitialized(servlet.RequestEvent) { panic("listener exploded") }
func (panicListener) RequestDestroyed(servlet.RequestEvent)   { panic("listener exploded") }

func TestMimeType(t *testing.T) {
	c := newTestContext(t, func(cfg *config.Server) {
		cfg.MimeTypes = map[string]string{".css": "text/css"}
	})
	tests := []struct {
		file string
		want string
	}{
		{"style.CSS", "text/css"},
		{"index.html", "text/html"},
		{"photo.jpg", "image/jpeg"},
		{"archive.bin", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}
	for _, tt := range tests {
		if want, got := tt.want, c.MimeType(tt.file); want != got {
			t.Fatalf("MimeType(%q): expected %q, got %q", tt.file, want, got)
		}
	}
}

func TestRealPathStaysInRoot(t *testing.T) {
	c := newTestContext(t, nil)
	root := filepath.Clean(c.webRoot)

	if want, got := filepath.Join(root, "a", "b.txt"), c.RealPath("/a/b.txt"); want != got {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if want, got := root, c.RealPath("/"); want != got {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := c.RealPath("/../../etc/passwd"); got != "" && !strings.HasPrefix(got, root) {
		t.Fatalf("expected path confined to root, got %q", got)
	}
}

func TestContextInfo(t *testing.T) {
	c := newTestContext(t, nil)
	if want, got := 5, c.MajorVersion(); want != got {
		t.Fatalf("expected major version %d, got %d", want, got)
	}
	if want, got := "JerryMouse Server/1.0", c.ServerInfo(); want != got {
		t.Fatalf("expected server info %q, got %q", want, got)
	}
	if _, err := c.SessionTimeout(); !errors.Is(err, servlet.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(c.webRoot, "x.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(c.RealPath("/x.txt")); err != nil {
		t.Fatalf("expected RealPath to locate file: %v", err)
	}
}
