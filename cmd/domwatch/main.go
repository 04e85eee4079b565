// Command domwatch watches web pages for elements that appear, disappear,
// exist or change, and writes event batches to the configured sinks.
//
// Usage:
//
//	domwatch -config domwatch.yaml
//	domwatch -url https://example.com -rule exists:.price -rule changed:#cart
//	domwatch -config domwatch.yaml -db rules.db -http 127.0.0.1:8470
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vitrine/dbopen"
	"github.com/hazyhaar/vitrine/domwatch"
)

type options struct {
	config   string
	url      string
	rules    []domwatch.Rule
	db       string
	http     string
	logLevel string
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "path to domwatch.yaml")
	flag.StringVar(&o.url, "url", "", "watch a single URL")
	flag.Func("rule", "kind:selector rule for -url (repeatable)", func(s string) error {
		r, err := parseRule(s, len(o.rules)+1)
		if err != nil {
			return err
		}
		o.rules = append(o.rules, r)
		return nil
	})
	flag.StringVar(&o.db, "db", "", "SQLite rule store (overrides config db)")
	flag.StringVar(&o.http, "http", "", "control API listen address (overrides config http.listen)")
	flag.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch o.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if o.config == "" && o.url == "" {
		fmt.Fprintln(os.Stderr, "usage: domwatch -config <file> | -url <url> [-rule kind:selector]...")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("domwatch: fatal", "error", err)
		os.Exit(1)
	}
}

// parseRule reads "kind:selector". The selector may itself contain colons.
func parseRule(s string, n int) (domwatch.Rule, error) {
	kind, sel, ok := strings.Cut(s, ":")
	if !ok || sel == "" {
		return domwatch.Rule{}, fmt.Errorf("rule %q: want kind:selector", s)
	}
	r := domwatch.Rule{Name: fmt.Sprintf("rule%d", n), Kind: kind, Selector: sel}
	return r, r.Validate()
}

func loadConfig(o options) (*domwatch.Config, error) {
	cfg := &domwatch.Config{}
	if o.config != "" {
		var err error
		if cfg, err = domwatch.LoadConfigFile(o.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if o.url != "" {
		cfg.Pages = append(cfg.Pages, cliPage(o))
	}
	if o.db != "" {
		cfg.DB = o.db
	}
	if o.http != "" {
		cfg.HTTP.Listen = o.http
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cliPage(o options) domwatch.PageConfig {
	return domwatch.PageConfig{ID: "cli", URL: o.url, Rules: o.rules}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []domwatch.Option{domwatch.WithLogger(logger)}
	if cfg.DB != "" {
		db, err := dbopen.Open(cfg.DB, dbopen.WithMkdirAll(), dbopen.WithSchema(domwatch.RuleSchema))
		if err != nil {
			return fmt.Errorf("rule store: %w", err)
		}
		defer db.Close()
		opts = append(opts, domwatch.WithRuleStore(db))
	}

	w, err := domwatch.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("domwatch: started", "pages", len(cfg.Pages), "sinks", len(cfg.Sinks))

	if o.config != "" {
		go func() {
			err := domwatch.WatchConfigFile(ctx, o.config, logger, func(next *domwatch.Config) {
				if o.url != "" {
					next.Pages = append(next.Pages, cliPage(o))
				}
				w.Reload(ctx, next)
			})
			if err != nil {
				logger.Warn("domwatch: config not watched", "error", err)
			}
		}()
	}

	var srv *http.Server
	if cfg.HTTP.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           domwatch.Handler(w, cfg.HTTP),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("domwatch: control API listening", "addr", cfg.HTTP.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("domwatch: control API", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("domwatch: shutting down")
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}
	return w.Stop()
}
