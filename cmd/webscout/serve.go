package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/api"
	"github.com/ramkansal/webscout/internal/config"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/scraper"
)

const shutdownTimeout = 15 * time.Second

func serve(cfg *config.Config, sc *scraper.Scraper, m *metrics.Metrics, logger *zap.Logger) error {
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(m),
	}
	if cfg.Budget > 0 {
		opts = append(opts, api.WithScrapeTimeout(cfg.Budget+10*time.Second))
	}
	if cfg.Redis.Addr != "" {
		cache := api.NewRedisCache(cfg.Redis.Addr)
		defer cache.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, serving without cache until it recovers",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		opts = append(opts, api.WithCache(cache, cfg.Redis.TTL))
	}
	srv := api.NewServer(cfg.Server.Addr, sc, opts...)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	sig := make(chan os.Signal, 1)
	registerSignals(sig)
	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func listMethods(sc *scraper.Scraper) error {
	printBanner()
	fmt.Println()
	lr := sc.LastResort()
	for _, m := range sc.Methods() {
		mark := clr("green", "●")
		state := "ready"
		if !m.Available() {
			mark, state = clr("dim", "○"), "no credential"
		}
		if lr != nil && lr.ID == m.ID {
			state += ", last resort"
		}
		fmt.Printf("  %s %-15s %s %s\n",
			mark, m.ID,
			clr("dim", fmt.Sprintf("cost %-3d %-40s", m.Cost, m.Suited.String())),
			clr("cyan", state))
	}
	fmt.Printf("\n  %s %s\n", clr("dim", "Fields:"), orNone(sc.Fields()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if bal, err := sc.CaptchaBalance(ctx); err == nil {
		fmt.Printf("  %s $%.2f\n", clr("dim", "2Captcha balance:"), bal)
	} else {
		fmt.Printf("  %s %s\n", clr("dim", "2Captcha:"), err)
	}
	fmt.Println()
	return nil
}
