package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/jerrymouse/config"
	"github.com/ggoodman/jerrymouse/internal/engine"
	"github.com/ggoodman/jerrymouse/internal/logctx"
	"github.com/google/uuid"
	"github.com/valyala/tcplisten"
	"golang.org/x/sync/semaphore"
)

// ShutdownGrace bounds how long Shutdown waits for in-flight exchanges.
const ShutdownGrace = 5 * time.Second

// Option configures a Connector.
type Option func(*Connector)

func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// Connector binds the listening socket and feeds every exchange into an
// initialized engine context.
type Connector struct {
	cfg     *config.Server
	context *engine.Context
	log     *slog.Logger
	slots   *semaphore.Weighted

	srv          *http.Server
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a connector for ctx. The context must be initialized before
// the first request arrives.
func New(cfg *config.Server, ctx *engine.Context, opts ...Option) *Connector {
	c := &Connector{
		cfg:     cfg,
		context: ctx,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if !cfg.EnableVirtualThread && cfg.ThreadPoolSize > 0 {
		c.slots = semaphore.NewWeighted(int64(cfg.ThreadPoolSize))
	}
	c.srv = &http.Server{
		Handler:           c,
		ReadHeaderTimeout: 30 * time.Second,
		ErrorLog:          slog.NewLogLogger(c.log.Handler(), slog.LevelWarn),
	}
	return c
}

// Listen binds host:port with the configured accept backlog.
func (c *Connector) Listen() (net.Listener, error) {
	network := "tcp4"
	if strings.Contains(c.cfg.Host, ":") {
		network = "tcp6"
	}
	lc := tcplisten.Config{Backlog: c.cfg.Backlog}
	ln, err := lc.NewListener(network, c.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", c.cfg.Addr(), err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (c *Connector) Serve(ln net.Listener) error {
	c.log.Info("connector.serve", slog.String("addr", ln.Addr().String()))
	if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (c *Connector) ListenAndServe() error {
	ln, err := c.Listen()
	if err != nil {
		return err
	}
	return c.Serve(ln)
}

// Shutdown stops accepting connections, waits up to ShutdownGrace for active
// exchanges and then destroys the engine context. Later calls return the
// first result.
func (c *Connector) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		sctx, cancel := context.WithTimeout(ctx, ShutdownGrace)
		defer cancel()
		if err := c.srv.Shutdown(sctx); err != nil {
			c.log.WarnContext(ctx, "connector.shutdown.fail", slog.String("err", err.Error()))
			c.shutdownErr = err
		}
		c.context.Destroy(ctx)
		c.log.InfoContext(ctx, "connector.shutdown")
	})
	return c.shutdownErr
}

func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if c.slots != nil {
		if err := c.slots.Acquire(ctx, 1); err != nil {
			c.log.InfoContext(ctx, "http.request.abandoned", slog.String("err", err.Error()))
			return
		}
		defer c.slots.Release(1)
	}

	resp := c.context.NewResponse(w)
	req := c.context.NewRequest(r, resp)
	defer func() {
		if err := resp.Cleanup(); err != nil {
			c.log.DebugContext(ctx, "http.response.cleanup.fail", slog.String("err", err.Error()))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			c.log.ErrorContext(ctx, "http.request.panic", slog.Any("panic", p))
			if !resp.IsCommitted() {
				_ = resp.SendError(http.StatusInternalServerError, "internal error")
			}
		}
	}()

	if err := c.context.Process(req, resp); err != nil {
		c.log.ErrorContext(ctx, "http.request.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
		if !resp.IsCommitted() {
			_ = resp.SendError(http.StatusInternalServerError, err.Error())
		}
		return
	}
	c.log.DebugContext(ctx, "http.request.ok", slog.Int("status", resp.Status()), slog.Duration("dur", time.Since(start)))
}
