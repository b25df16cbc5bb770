package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/navwatch/internal/api"
	"github.com/dgnsrekt/navwatch/internal/browser"
	"github.com/dgnsrekt/navwatch/internal/cdp"
	"github.com/dgnsrekt/navwatch/internal/cdpcontrol"
	"github.com/dgnsrekt/navwatch/internal/config"
	"github.com/dgnsrekt/navwatch/internal/controller"
	"github.com/dgnsrekt/navwatch/internal/events"
	"github.com/dgnsrekt/navwatch/internal/history"
	"github.com/dgnsrekt/navwatch/internal/journal"
	"github.com/dgnsrekt/navwatch/internal/netutil"
	"github.com/dgnsrekt/navwatch/internal/router"
	"github.com/dgnsrekt/navwatch/internal/views"
	"gopkg.in/natefinch/lumberjack.v2"
)

// closableHistory is a history backend the process owns.
type closableHistory interface {
	router.History
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("navwatch config loaded",
		"history", cfg.History,
		"cdp_url", cfg.CDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"poll_interval_ms", cfg.PollIntervalMS,
		"root_fragment", cfg.RootFragment,
		"routes_file", cfg.RoutesFile,
		"bind_addr", cfg.BindAddr,
		"journal_dir", cfg.JournalDir,
		"log_level", cfg.LogLevel,
	)

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		slog.Error("failed to load routes", "path", cfg.RoutesFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser && cfg.History != config.HistoryMemory {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress:   cfg.CDPAddress,
			CDPPort:      cfg.CDPPort,
			StartURL:     cfg.StartURL,
			ProfileDir:   cfg.ProfileDir,
			LogFileDir:   cfg.BrowserLogDir,
			CrashDumpDir: cfg.CrashDumpDir,
			Headless:     cfg.BrowserHeadless,
		})
		if _, err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	hist, sim, err := openHistory(ctx, cfg)
	if err != nil {
		slog.Error("failed to open history", "backend", cfg.History, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := hist.Close(); err != nil {
			slog.Debug("history close failed", "error", err)
		}
	}()

	registry := views.NewRegistry()
	for _, r := range routes {
		if registry.Has(r.ControllerID) {
			continue
		}
		registry.RegisterController(r.ControllerID, views.NewPageView(r.ControllerID))
	}

	broker := events.NewBroker()
	jw := journal.NewWriter(cfg.JournalDir, cfg.JournalBufferSize, cfg.JournalMaxSizeMB)
	followCtx, stopFollow := context.WithCancel(context.Background())
	followDone := journal.Follow(followCtx, broker, jw)

	watcher, err := router.New(routes, hist, registry,
		router.WithInterval(time.Duration(cfg.PollIntervalMS)*time.Millisecond),
		router.WithRootFragment(cfg.RootFragment),
		router.WithPublisher(broker),
	)
	if err != nil {
		slog.Error("failed to build watcher", "error", err)
		os.Exit(1)
	}
	if err := watcher.Start(ctx); err != nil {
		slog.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}

	svc := controller.NewService(watcher, registry, cfg.History)
	if sim != nil {
		svc.WithSimulator(sim)
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	addr := ln.Addr().String()
	srv := &http.Server{Addr: addr, Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		slog.Info("navwatch listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("navwatch server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("navwatch shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("navwatch shutdown failed", "error", err)
	}
	watcher.Stop()
	stopFollow()
	<-followDone
	if err := jw.Close(); err != nil {
		slog.Debug("journal close failed", "error", err)
	}
}

// openHistory connects the configured backend. sim is non-nil only for the
// memory backend.
func openHistory(ctx context.Context, cfg *config.Config) (closableHistory, controller.Simulator, error) {
	evalTimeout := time.Duration(cfg.EvalTimeoutMS) * time.Millisecond
	switch cfg.History {
	case config.HistoryCDP:
		c := cdpcontrol.NewClient(cfg.CDPURL(), cfg.TabURLFilter, evalTimeout)
		if err := c.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	case config.HistoryChromedp:
		h := cdp.NewHistory(cfg.CDPURL(), cfg.TabURLFilter, evalTimeout)
		if err := h.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return h, nil, nil
	default:
		mem := history.NewMemory(cfg.InitialURL)
		return memoryHistory{mem}, mem, nil
	}
}

type memoryHistory struct {
	*history.Memory
}

func (memoryHistory) Close() error { return nil }

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
