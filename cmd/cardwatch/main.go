package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cardwatch/cardwatch/internal/capture"
	"github.com/cardwatch/cardwatch/internal/config"
	"github.com/cardwatch/cardwatch/internal/detector"
	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
	"github.com/cardwatch/cardwatch/internal/model"
	"github.com/cardwatch/cardwatch/internal/notify"
	"github.com/cardwatch/cardwatch/internal/scheduler"
	"github.com/cardwatch/cardwatch/internal/tracker"
	"github.com/cardwatch/cardwatch/internal/webmonitor"
)

func main() {
	cfg := config.DefaultConfig()
	envErr := config.LoadEnv(&cfg, ".env")
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if envErr != nil {
		log.Fatalf("Invalid environment: %v", envErr)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Card watcher starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, level); err != nil {
		log.Fatalf("Card watcher failed: %v", err)
	}
	log.Println("Server stopped")
}

func run(ctx context.Context, cfg config.Config, level logger.LogLevel) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	frames, err := capture.NewFrameSource(capture.ScreenshotScreen{}, capture.Options{
		DisplayIndex:  cfg.DisplayIndex,
		Region:        cfg.Region,
		WorkDir:       cfg.WorkDir,
		LatestPath:    cfg.LatestViewPath,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
	}, m)
	if err != nil {
		return err
	}

	// The backend gets its own logger so inference can silence it without
	// muting the rest of the process.
	handle := model.NewHandle(model.NewONNXLoader(cfg.ClassNamesPath), model.Options{
		Path:          cfg.ModelPath,
		SHA256:        cfg.ModelSHA256,
		MinConfidence: cfg.MinConfidence,
		Log:           logger.New(level, os.Stderr, cfg.LogColor),
	}, m)

	det := detector.New(frames, handle, detector.Config{
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
	}, m)

	sched := scheduler.New(det, tracker.New(m), scheduler.Config{
		Period:        cfg.CyclePeriod,
		ErrorCooldown: cfg.ErrorCooldown,
	})

	wcfg := webmonitor.DefaultConfig()
	wcfg.Addr = cfg.Addr
	wcfg.AssetsDir = cfg.AssetsDir
	wcfg.LatestViewPath = frames.LatestPath()
	web := webmonitor.NewServer(wcfg, sched, frames, handle, m.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Main", "  Display: %v", frames.Display())
	logger.Info("Main", "  Region: %s", cfg.Region)
	logger.Info("Main", "  Model: %s (min confidence %.2f)", cfg.ModelPath, cfg.MinConfidence)
	logger.Info("Main", "  Work dir: %s", cfg.WorkDir)
	logger.Info("Main", "  Latest view: %s", frames.LatestPath())

	var wg sync.WaitGroup

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.ErrorCooldown)
		if err != nil {
			logger.Warn("Main", "Telegram notifications disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tg.Run(ctx, sched)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Main", "Scheduler stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Main", "Card monitor listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case runErr = <-serveErr:
		logger.Error("Main", "HTTP server error: %v", runErr)
	}
	cancel()

	// Streams end first so Shutdown does not wait on them.
	web.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
		_ = httpServer.Close()
	}

	wg.Wait()
	return runErr
}
