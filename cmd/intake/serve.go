package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bureauzwartjes/intake/claim"
	"github.com/bureauzwartjes/intake/config"
	"github.com/bureauzwartjes/intake/internal/logger"
	"github.com/bureauzwartjes/intake/internal/metrics"
	"github.com/bureauzwartjes/intake/openrouter"
	"github.com/bureauzwartjes/intake/relay"
	"github.com/bureauzwartjes/intake/supabase"
)

func serveCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.toml", "path to the TOML config file")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	upstream := openrouter.New(openrouter.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		APIKey:    cfg.Upstream.APIKey,
		Model:     cfg.Upstream.Model,
		MaxTokens: cfg.Upstream.MaxTokens,
		Referer:   cfg.Upstream.SiteURL,
		Title:     cfg.Upstream.Title,
	}, nil)
	if !upstream.Configured() {
		log.Warn().Msg("OPENROUTER_API_KEY not set, chat requests will be refused")
	}

	var store supabase.Store
	if cfg.PersistenceEnabled() {
		c, err := supabase.New(supabase.Config{
			URL:    cfg.Supabase.URL,
			APIKey: cfg.Supabase.ServiceKey,
			Table:  cfg.Supabase.Table,
		})
		if err != nil {
			return fmt.Errorf("supabase: %w", err)
		}
		store = c
		defer c.Close()
	} else {
		log.Warn().Msg("supabase credentials not set, completed intakes will not be saved")
	}
	gateway := supabase.NewGateway(store, logger.Component(log, "persistence"))

	claims, err := newClaimStore(ctx, cfg.Claims, log)
	if err != nil {
		return err
	}
	defer claims.Close()

	chat := relay.New(relay.Config{
		MaxMessages:   cfg.Server.MaxMessages,
		HistoryTokens: cfg.Server.HistoryTokens,
		HistoryLimit:  cfg.Server.HistoryLimit,
		SaveTimeout:   cfg.Server.SaveTimeout.Duration,
	}, relay.Deps{
		Upstream: upstream,
		Gateway:  gateway,
		Claims:   claims,
		Logger:   logger.Component(log, "relay"),
		Metrics:  m,
	})

	var limiter *relay.RateLimiter
	if cfg.Server.RatePerMinute > 0 {
		limiter = relay.NewRateLimiter(cfg.Server.RatePerMinute, cfg.Server.RateBurst)
	}

	srv := relay.NewServer(relay.ServerConfig{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
		Gatherer:       reg,
	}, chat, logger.Component(log, "http"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if limiter != nil {
		go limiter.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

func newClaimStore(ctx context.Context, cfg config.ClaimsConfig, log zerolog.Logger) (claim.Store, error) {
	opts := []claim.StoreOption{claim.WithTTL(cfg.TTL.Duration)}

	if claim.StoreType(cfg.Driver) == claim.StoreTypeRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			// claims fail open, so an unreachable redis only costs dedupe
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable")
		}
		opts = append(opts, claim.WithRedisClient(rdb))
	}

	store, err := claim.NewStore(claim.StoreType(cfg.Driver), opts...)
	if err != nil {
		return nil, fmt.Errorf("claim store: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("completion claims ready")
	return store, nil
}
