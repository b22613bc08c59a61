// Command heroserver serves the hero API on standard input and output, or
// over HTTP (websocket or server-sent events) with --listen, and prints its
// documentation with docs.
//
//	heroserver serve --config heroes.yaml
//	heroserver docs --format md --out heroes.md
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linerpc/linerpc"
	"github.com/linerpc/linerpc/example/heroes/api"
	"github.com/linerpc/linerpc/example/heroes/config"
	"github.com/linerpc/linerpc/example/heroes/logging"
	"github.com/linerpc/linerpc/example/heroes/store"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "heroserver:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlags := []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
		&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file, ignored when missing"},
	}
	return &cli.App{
		Name:  "heroserver",
		Usage: "hero management over line-delimited JSON-RPC",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve requests on stdio, or over HTTP with --listen",
				Flags: append(configFlags,
					&cli.StringFlag{Name: "listen", Usage: "HTTP address, e.g. 127.0.0.1:8080; empty serves stdio"},
					&cli.StringFlag{Name: "transport", Value: "websocket", Usage: "with --listen: websocket (on /rpc) or sse (on /sse/events and /sse/rpc)"},
					&cli.StringFlag{Name: "metrics-addr", Usage: "address of the /metrics endpoint"},
					&cli.StringFlag{Name: "database", Usage: "SQLite database path"},
				),
				Action: serve,
			},
			{
				Name:  "docs",
				Usage: "print the API reference",
				Flags: append(configFlags,
					&cli.StringFlag{Name: "format", Value: "md", Usage: "md or json"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
				),
				Action: docs,
			},
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("database") {
		cfg.Database = c.String("database")
	}
	return cfg, nil
}

func serverOptions(cfg config.Config, logger *slog.Logger) linerpc.ServerOptions {
	return linerpc.ServerOptions{Label: cfg.Label, Version: cfg.Version, Logger: logger}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, logFile, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics, err := api.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	heroes := api.New(st, api.Options{
		Logger:         logger,
		Metrics:        metrics,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		TimeScale:      cfg.TimeScale,
	})
	srv, err := heroes.Server(cfg.Name, serverOptions(cfg, logger))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Listen != "" {
		// Each handler admits one peer, so only one of them is mounted.
		mux := http.NewServeMux()
		switch transport := c.String("transport"); transport {
		case "websocket":
			mux.Handle("/rpc", linerpc.WebSocketHandler(srv))
		case "sse":
			mux.Handle("/sse/", http.StripPrefix("/sse", linerpc.SSEHandler(srv)))
		default:
			return fmt.Errorf("unknown transport %q", transport)
		}
		runHTTP(gctx, g, logger, c.String("transport"), cfg.Listen, mux)
	} else {
		g.Go(func() error {
			// Standard input closing ends the process.
			defer cancel()
			return srv.ServeStdio(gctx)
		})
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		runHTTP(gctx, g, logger, "metrics", cfg.MetricsAddr, mux)
	}

	logger.Info("heroserver started", "name", cfg.Name, "version", cfg.Version, "listen", cfg.Listen, "metrics", cfg.MetricsAddr)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("heroserver stopped", "error", err)
	return err
}

// runHTTP serves h on addr until ctx is done.
func runHTTP(ctx context.Context, g *errgroup.Group, logger *slog.Logger, name, addr string, h http.Handler) {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Info("listening", "server", name, "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})
}

func docs(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// The documentation walk never calls handlers, so no store is opened.
	heroes := api.New(nil, api.Options{
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	srv, err := heroes.Server(cfg.Name, serverOptions(cfg, nil))
	if err != nil {
		return err
	}
	doc := srv.Describe()

	var w io.Writer = os.Stdout
	if out := c.String("out"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch c.String("format") {
	case "md":
		return linerpc.RenderMarkdown(w, doc)
	case "json":
		data, err := doc.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	default:
		return fmt.Errorf("unknown format %q", c.String("format"))
	}
}
