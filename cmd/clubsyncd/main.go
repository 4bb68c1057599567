// Command clubsyncd runs the offline-first notification sync agent: it
// keeps the local feed cache warm, reconciles realtime changes, replays
// queued training-log writes, and serves the local HTTP API the club
// app talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tvandenberg/clubsync/internal/api"
	"github.com/tvandenberg/clubsync/internal/cache"
	"github.com/tvandenberg/clubsync/internal/connectivity"
	"github.com/tvandenberg/clubsync/internal/credential"
	"github.com/tvandenberg/clubsync/internal/feed"
	"github.com/tvandenberg/clubsync/internal/logging"
	"github.com/tvandenberg/clubsync/internal/model"
	"github.com/tvandenberg/clubsync/internal/queue"
	"github.com/tvandenberg/clubsync/internal/realtime"
	"github.com/tvandenberg/clubsync/internal/recordstore"
	"github.com/tvandenberg/clubsync/internal/syncengine"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	userID := flag.String("user", "", "user id to preload and subscribe on startup")
	flag.Parse()

	if err := run(*configPath, *userID); err != nil {
		fmt.Fprintf(os.Stderr, "clubsyncd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, userID string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel)

	if cfg.RecordStore.BaseURL == "" {
		return errors.New("record_store.base_url is not configured")
	}

	apiKey := cfg.RecordStore.APIKey
	if apiKey == "" {
		apiKey, err = credential.Get(credential.RecordStoreKey)
		if err != nil {
			log.Debugf("no keyring credential: %v", err)
			apiKey = os.Getenv("CLUBSYNC_API_KEY")
		}
	}
	if apiKey == "" {
		return errors.New("no record store API key in config, keyring, or CLUBSYNC_API_KEY")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	cacheStore, err := cache.NewStore(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("opening local cache: %w", err)
	}
	defer cacheStore.Close()

	store := recordstore.NewClient(cfg.RecordStore.BaseURL, apiKey)

	monitor := connectivity.New(
		connectivity.HTTPProbe(cfg.RecordStore.BaseURL+cfg.RecordStore.HealthPath),
		time.Duration(cfg.Sync.ProbeIntervalSec)*time.Second,
	)

	q := queue.New(cacheStore)
	engine := syncengine.New(q, store, log, cfg.Sync.MaxRetries)
	engine.AttachMonitor(monitor)

	feedCtl := feed.NewController(store, cacheStore, monitor, log, cfg.Feed.PageSize)

	channel := realtime.NewStreamChannel(cfg.RecordStore.BaseURL, apiKey, log)
	reconciler := realtime.NewReconciler(feedCtl, channel, log)
	defer reconciler.Unsubscribe()

	// Surface dropped mutations instead of losing them silently.
	go func() {
		for warning := range engine.Warnings() {
			log.Errorf("unsynced mutation %d (%s) was dropped: %v",
				warning.Item.QueueID, warning.Item.Op, warning.Err)
		}
	}()

	monitor.Start()
	defer monitor.Stop()

	if userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := feedCtl.FetchPage(ctx, userID, 1, ""); err != nil {
			log.Warnf("initial feed fetch for %s: %v", userID, err)
		}
		if _, err := feedCtl.RefreshUnreadCount(ctx, userID); err != nil {
			log.Warnf("initial unread recount for %s: %v", userID, err)
		}
		cancel()

		if err := reconciler.Subscribe(userID); err != nil {
			log.Warnf("subscribing to change stream for %s: %v", userID, err)
		}
	}

	server := api.NewServer(feedCtl, q, engine, monitor, store, log)
	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.API.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}
