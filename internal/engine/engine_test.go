package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/jerrymouse/config"
	"github.com/ggoodman/jerrymouse/sessions"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestContext builds a context over a temp web root with file listings
// off, so unmatched paths reach the 404 body. mutate may adjust the config.
func newTestContext(t *testing.T, mutate func(cfg *config.Server)) *Context {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}
	cfg.WebApp.FileListings = false
	if mutate != nil {
		mutate(cfg)
	}
	c := NewContext(cfg, t.TempDir(),
		WithLogger(discardLogger()),
		WithSessionOptions(sessions.WithSweepInterval(0)),
	)
	t.Cleanup(func() { c.Destroy(context.Background()) })
	return c
}

// serve runs one exchange through c the way the connector does.
func serve(t *testing.T, c *Context, r *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	resp := c.NewResponse(rec)
	req := c.NewRequest(r, resp)
	err := c.Process(req, resp)
	if cerr := resp.Cleanup(); cerr != nil {
		t.Fatalf("cleanup failed: %v", cerr)
	}
	return rec, err
}
