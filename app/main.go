package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/inapp-sync/app/api"
	"github.com/lysyi3m/inapp-sync/app/audience"
	"github.com/lysyi3m/inapp-sync/app/cfg"
	"github.com/lysyi3m/inapp-sync/app/database"
	"github.com/lysyi3m/inapp-sync/app/inapp"
	"github.com/lysyi3m/inapp-sync/app/remotedata"
	"github.com/lysyi3m/inapp-sync/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("In-App Sync stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting In-App Sync", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("Connected to database", "path", appCfg.DBPath)

	preferences := database.NewPreferenceRepository(db)
	schedules := database.NewScheduleRepository(db)

	deviceCache := audience.NewContextCache(appCfg.DeviceFile)
	if err := deviceCache.Load(); err != nil {
		return err
	}

	remoteFeed, err := remotedata.NewFeed(preferences)
	if err != nil {
		return fmt.Errorf("failed to restore remote data: %w", err)
	}
	client := remotedata.NewClient(remotedata.ClientOptions{
		BaseURL:    appCfg.RemoteDataURL,
		AppKey:     appCfg.AppKey,
		Platform:   appCfg.Platform,
		SDKVersion: appCfg.Version,
		UserAgent:  appCfg.UserAgent,
		Timeout:    appCfg.RequestTimeoutDuration(),
	})
	refresher := remotedata.NewRefresher(client, remoteFeed, preferences, deviceCache)

	observer := inapp.NewObserver(preferences, audience.NewChecker(deviceCache))
	if err := initNewUserCutoff(observer); err != nil {
		return err
	}

	taskScheduler := tasks.NewScheduler(refresher, appCfg.RefreshIntervalDuration(), appCfg.WorkerCount)

	apiHandler := api.NewHandler(schedules, observer, remoteFeed, taskScheduler)
	observer.AddListener(apiHandler)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(apiHandler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observer.Subscribe(ctx, remoteFeed, schedules)
	defer observer.Wait()
	defer observer.Cancel()

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.RefreshIntervalDuration())
	taskScheduler.Start()
	defer taskScheduler.Stop()

	watcher := audience.NewWatcher(deviceCache, func() {
		if err := taskScheduler.RefreshNow(tasks.TriggerDeviceContext); err != nil {
			slog.Warn("Failed to enqueue refresh after device change", "error", err)
		}
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := watcher.Run(gCtx); err != nil {
			slog.Warn("Device file watcher stopped", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Starting HTTP server", "port", appCfg.Port, "api_enabled", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		slog.Info("HTTP server stopped")
		return nil
	})

	err = g.Wait()
	slog.Info("In-App Sync shutdown complete")
	return err
}

// initNewUserCutoff records the first launch time. Messages created up to
// that point are scheduled with new user audiences allowed.
func initNewUserCutoff(observer *inapp.Observer) error {
	cutoff, err := observer.ScheduleNewUserCutoffTime()
	if err != nil {
		return fmt.Errorf("failed to read new user cutoff: %w", err)
	}
	if cutoff >= 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	if err := observer.SetScheduleNewUserCutoffTime(now); err != nil {
		return fmt.Errorf("failed to set new user cutoff: %w", err)
	}
	slog.Info("New user cutoff initialized", "time", time.UnixMilli(now).UTC().Format(time.RFC3339))
	return nil
}
