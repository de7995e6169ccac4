package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ducroq/energydash/internal/config"
	"github.com/ducroq/energydash/internal/dashboard"
	"github.com/ducroq/energydash/internal/fetchcache"
	"github.com/ducroq/energydash/internal/httpapi"
	"github.com/ducroq/energydash/internal/localtime"
	"github.com/ducroq/energydash/internal/notify"
	"github.com/ducroq/energydash/internal/util"
)

func main() {
	cfgPath := "config/energydash.yaml"
	if p := os.Getenv("ENERGYDASH_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	norm, err := localtime.NewNormalizer(cfg.Region.Timezone)
	if err != nil {
		log.Fatalf("loading timezone %q: %v", cfg.Region.Timezone, err)
	}

	fetch, err := fetchcache.New(fetchcache.Options{
		MaxEntries:      cfg.Cache.MaxEntries,
		RateLimitPerMin: cfg.Sources.RateLimitPerMin,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("creating fetch client: %v", err)
	}

	center := notify.NewCenter(notify.DefaultTTL, logger)
	dash := dashboard.New(cfg, fetch, norm, center, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := dash.Init(ctx); err != nil {
		log.Fatalf("dashboard init: %v", err)
	}
	defer dash.Close()

	api := httpapi.NewServer(dash, center, norm, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}
