// Command tourd runs guided tours on a Chrome page and exposes them to
// agents over MCP and to operators over HTTP.
//
// Usage:
//
//	tourd -config tourd.yaml               # HTTP control API on cfg.listen
//	tourd -config tourd.yaml -mcp stdio    # plus MCP tools on stdin/stdout
//	tourd -config tourd.yaml -url https://app.example/?tour=onboarding
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
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sable-inc/sable-smart-links-sub000/config"
	"github.com/sable-inc/sable-smart-links-sub000/control"
	"github.com/sable-inc/sable-smart-links-sub000/dom/roddom"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
	"github.com/sable-inc/sable-smart-links-sub000/observability"
	"github.com/sable-inc/sable-smart-links-sub000/persist"
	"github.com/sable-inc/sable-smart-links-sub000/storage"
	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

func main() {
	configPath := flag.String("config", "tourd.yaml", "path to tourd.yaml")
	pageURL := flag.String("url", "", "page to open, overrides page.url")
	listen := flag.String("listen", "", "HTTP control address, overrides listen")
	mcpMode := flag.String("mcp", "none", "MCP transport: stdio, none")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default from config)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tourd:", err)
		os.Exit(1)
	}
	if *pageURL != "" {
		cfg.Page.URL = *pageURL
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	var level slog.Level
	switch cfg.LogLevel {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *mcpMode); err != nil {
		logger.Error("tourd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, mcpMode string) error {
	switch mcpMode {
	case "stdio", "none":
	default:
		return fmt.Errorf("unknown -mcp transport %q", mcpMode)
	}
	if cfg.Page.URL == "" {
		return errors.New("no page: set page.url or -url")
	}

	// State and observability share one database.
	db, err := storage.OpenSQLite(cfg.DB, storage.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := observability.Init(db.DB()); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	events := observability.NewEventStore(db.DB(), 1000, observability.WithLogger(logger))
	defer events.Close()
	audit := observability.NewAuditLogger(db.DB(), 1000, observability.WithAuditLogger(logger))
	defer audit.Close()
	go retention(ctx, logger, db, observability.RetentionConfig{
		EventsDays: cfg.Retention.EventsDays,
		AuditDays:  cfg.Retention.AuditDays,
	})

	level, err := roddom.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return err
	}
	browser, err := roddom.Launch(roddom.BrowserConfig{
		RemoteURL:   cfg.Browser.Remote,
		Bin:         cfg.Browser.Bin,
		UserDataDir: cfg.Browser.UserDataDir,
		Stealth:     level,
		Width:       cfg.Browser.Width,
		Height:      cfg.Browser.Height,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer browser.Close()
	page, err := browser.Open(ctx, cfg.Page.URL, cfg.Page.Timeout)
	if err != nil {
		return err
	}

	// The loop outlives ctx so shutdown can still reach the engine.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	lp := loop.New(logger)
	go lp.Run(loopCtx)

	doc, err := roddom.Attach(page, lp, logger)
	if err != nil {
		return err
	}
	defer doc.Close()

	var store storage.Store = db
	if cfg.Persist.Store == "local_storage" {
		store = roddom.NewLocalStorage(page)
	}

	var (
		eng    *tour.Engine
		bus    *tour.Bus
		bridge *persist.Bridge
		regErr error
	)
	if err := lp.Do(ctx, func() {
		eng = tour.New(tour.Deps{
			Scheduler:     lp,
			Document:      doc,
			Store:         store,
			Logger:        logger,
			Recorder:      events,
			Timing:        cfg.Timing,
			StrictStepIDs: cfg.StrictStepIDs,
		})
		bus = tour.NewBus(lp)
		eng.Listen(bus)
		regErr = cfg.Register(eng)
		bridge = persist.New(eng, store, lp, logger, persist.Options{
			Key:   cfg.Persist.Key,
			Param: cfg.Persist.Param,
			TTL:   cfg.Persist.TTL,
		})
		bridge.Attach(doc)
		bridge.Boot(doc.URL())
	}); err != nil {
		return fmt.Errorf("boot engine: %w", err)
	}
	if regErr != nil {
		logger.Warn("tourd: some tours were not registered", "error", regErr)
	}
	logger.Info("tourd: tours registered", "count", len(cfg.Tours), "url", cfg.Page.URL)

	svc := control.New(eng, lp,
		control.WithBus(bus),
		control.WithAudit(audit),
		control.WithAnalytics(events),
		control.WithLogger(logger),
	)

	if mcpMode == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "tourd",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("tourd: mcp stdio", "error", err)
			}
		}()
		logger.Info("tourd: mcp tools on stdio")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("tourd: control api listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("control api: %w", err)
	}
	logger.Info("tourd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("tourd: http shutdown", "error", err)
	}
	// Leave the snapshot in place so the next start resumes the tour.
	if err := lp.Do(shutdownCtx, func() {
		bridge.Close()
		eng.Suspend()
	}); err != nil {
		logger.Warn("tourd: engine shutdown", "error", err)
	}
	stopLoop()
	if err := events.Flush(shutdownCtx); err != nil {
		logger.Warn("tourd: flush events", "error", err)
	}
	return nil
}

// retention trims the observability tables at start and once a day.
func retention(ctx context.Context, logger *slog.Logger, db *storage.SQLite, cfg observability.RetentionConfig) {
	clean := func() {
		n, err := observability.Cleanup(ctx, db.DB(), cfg)
		if err != nil {
			logger.Warn("tourd: retention cleanup", "error", err)
			return
		}
		if n > 0 {
			logger.Info("tourd: retention cleanup", "rows", n)
		}
	}
	clean()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clean()
		}
	}
}
