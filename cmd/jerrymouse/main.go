// Command jerrymouse serves one web application bundle.
//
//	jerrymouse --war <path> [--config <path>]
//
// The bundle is either a .war archive or an exploded directory. Logging is
// controlled by JERRYMOUSE_LOG_FORMAT (text or json) and
// JERRYMOUSE_LOG_LEVEL (debug, info, warn, error).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ggoodman/jerrymouse/config"
	"github.com/ggoodman/jerrymouse/connector"
	"github.com/ggoodman/jerrymouse/internal/engine"
	"github.com/ggoodman/jerrymouse/internal/logctx"
	"github.com/ggoodman/jerrymouse/internal/webapp"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("jerrymouse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	war := fs.String("war", "", "path to a .war archive or an exploded web application directory")
	cfgPath := fs.String("config", "", "optional YAML file overriding the default server configuration")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *war == "" {
		fmt.Fprintln(stderr, "missing required --war argument")
		fs.Usage()
		return 1
	}

	log := newLogger(stderr, os.Getenv("JERRYMOUSE_LOG_FORMAT"), os.Getenv("JERRYMOUSE_LOG_LEVEL"))
	slog.SetDefault(log)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("config.load.fail", slog.String("path", *cfgPath), slog.String("err", err.Error()))
		return 1
	}

	app, err := webapp.Open(*war, log)
	if err != nil {
		log.Error("webapp.open.fail", slog.String("war", *war), slog.String("err", err.Error()))
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("webapp.cleanup.fail", slog.String("err", err.Error()))
		}
	}()

	comps, err := app.Discover(nil)
	if err != nil {
		log.Error("webapp.discover.fail", slog.String("err", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ec := engine.NewContext(cfg, app.Root, engine.WithLogger(log))
	if err := ec.Initialize(ctx, comps); err != nil {
		log.Error("context.initialize.fail", slog.String("err", err.Error()))
		ec.Destroy(context.Background())
		return 1
	}

	conn := connector.New(cfg, ec, connector.WithLogger(log))
	ln, err := conn.Listen()
	if err != nil {
		log.Error("connector.listen.fail", slog.String("addr", cfg.Addr()), slog.String("err", err.Error()))
		ec.Destroy(context.Background())
		return 1
	}
	log.Info("server.start", slog.String("name", cfg.Name), slog.String("addr", ln.Addr().String()), slog.String("root", app.Root))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conn.Serve(ln) })
	g.Go(func() error {
		<-gctx.Done()
		return conn.Shutdown(context.Background())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server.fail", slog.String("err", err.Error()))
		return 1
	}
	log.Info("server.stop")
	return 0
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
