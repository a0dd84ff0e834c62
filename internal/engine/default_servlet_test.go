package engine

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/jerrymouse/config"
)

func newListingContext(t *testing.T) *Context {
	t.Helper()
	c := newTestContext(t, func(cfg *config.Server) { cfg.WebApp.FileListings = true })
	root := c.webRoot
	mustWrite(t, filepath.Join(root, "index.txt"), "hello")
	mustWrite(t, filepath.Join(root, "docs", "guide.html"), "<p>guide</p>")
	mustWrite(t, filepath.Join(root, "WEB-INF", "secret.txt"), "secret")
	if err := c.Initialize(t.Context(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return c
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDefaultServletServesFiles(t *testing.T) {
	c := newListingContext(t)

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/index.txt", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "hello", rec.Body.String(); want != got {
		t.Fatalf("expected body %q, got %q", want, got)
	}
	if want, got := "text/plain", rec.Header().Get("Content-Type"); want != got {
		t.Fatalf("expected content type %q, got %q", want, got)
	}
	if want, got := "5", rec.Header().Get("Content-Length"); want != got {
		t.Fatalf("expected content length %q, got %q", want, got)
	}

	r := httptest.NewRequest(http.MethodGet, "/index.txt", nil)
	r.Header.Set("If-Modified-Since", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	rec, err = serve(t, c, r)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := http.StatusNotModified, rec.Code; want != got {
		t.Fatalf("expected status %d, got %d", want, got)
	}
}

func TestDefaultServletHidesPrivateDirs(t *testing.T) {
	c := newListingContext(t)
	for _, path := range []string{"/WEB-INF/secret.txt", "/web-inf/secret.txt", "/META-INF/x", "/docs/missing.txt"} {
		rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("process %s: %v", path, err)
		}
		if want, got := http.StatusNotFound, rec.Code; want != got {
			t.Fatalf("%s: expected status %d, got %d", path, want, got)
		}
	}
}

func TestDefaultServletListsDirectories(t *testing.T) {
	c := newListingContext(t)

	rec, err := serve(t, c, httptest.NewRequest(http.MethodGet, "/docs", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := http.StatusFound, rec.Code; want != got {
		t.Fatalf("expected redirect %d, got %d", want, got)
	}
	if want, got := "/docs/", rec.Header().Get("Location"); want != got {
		t.Fatalf("expected location %q, got %q", want, got)
	}

	rec, err = serve(t, c, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{"Index of /", `href="index.txt"`, `href="docs/"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected listing to contain %q, got %q", want, body)
		}
	}
	if strings.Contains(body, "WEB-INF") {
		t.Fatalf("expected WEB-INF to be hidden, got %q", body)
	}

	rec, err = serve(t, c, httptest.NewRequest(http.MethodGet, "/docs/", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `href="guide.html"`) {
		t.Fatalf("expected nested listing, got %q", rec.Body.String())
	}
}

func TestDefaultServletRejectsOtherMethods(t *testing.T) {
	c := newListingContext(t)
	rec, err := serve(t, c, httptest.NewRequest(http.MethodPost, "/index.txt", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := http.StatusMethodNotAllowed, rec.Code; want != got {
		t.Fatalf("expected status %d, got %d", want, got)
	}
}

func TestDefaultServletHead(t *testing.T) {
	c := newListingContext(t)
	rec, err := serve(t, c, httptest.NewRequest(http.MethodHead, "/index.txt", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if want, got := "5", rec.Header().Get("Content-Length"); want != got {
		t.Fatalf("expected content length %q, got %q", want, got)
	}
	if got := rec.Body.Len(); got != 0 {
		t.Fatalf("expected empty body, got %d bytes", got)
	}
}

func TestListingCacheDropsPagesInvalidatedDuringRender(t *testing.T) {
	c := newTestContext(t, nil)
	mustWrite(t, filepath.Join(c.webRoot, "docs", "a.txt"), "a")

	d := newDefaultServlet(discardLogger())
	if err := d.Init(syntheticConfig{name: defaultServletName, ctx: c}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(d.Destroy)
	if d.watcher == nil {
		t.Skip("fsnotify is not available")
	}
	loc := filepath.Join(c.webRoot, "docs")

	d.render = func(uri, loc string) ([]byte, error) {
		page, err := renderListing(uri, loc)
		d.invalidate(loc)
		return page, err
	}
	if _, err := d.listing("/docs/", loc); err != nil {
		t.Fatalf("listing: %v", err)
	}
	if _, ok := d.listings.Load(loc); ok {
		t.Fatalf("expected a page invalidated during render not to be cached")
	}

	d.render = renderListing
	if _, err := d.listing("/docs/", loc); err != nil {
		t.Fatalf("listing: %v", err)
	}
	if _, ok := d.listings.Load(loc); !ok {
		t.Fatalf("expected the listing to be cached")
	}
	d.invalidate(loc)
	if _, ok := d.listings.Load(loc); ok {
		t.Fatalf("expected invalidate to drop the listing")
	}
}
