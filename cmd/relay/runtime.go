package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/client"
	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/governor"
	"github.com/pario-ai/relay/pkg/mcp"
	"github.com/pario-ai/relay/pkg/metrics"
	"github.com/pario-ai/relay/pkg/pricing"
	"github.com/pario-ai/relay/pkg/ratelimit"
	"github.com/pario-ai/relay/pkg/tracker"
)

// runtime holds the components shared by the long-running commands.
type runtime struct {
	gov       *governor.Governor
	registry  *prometheus.Registry
	pricing   *pricing.Table
	completer mcp.Completer // nil when no API key is configured
	journal   *tracker.SQLiteJournal
	retention *tracker.RetentionScheduler
	limiter   *ratelimit.Limiter
}

func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	limiter, err := ratelimit.New(cfg.RateLimitOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("init rate limiter: %w", err)
	}

	rt := &runtime{
		limiter:  limiter,
		registry: prometheus.NewRegistry(),
		pricing:  pricing.NewTable(pricing.DefaultPricing(), cfg.Pricing),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	trOpts := tracker.Options{
		LimitUSD:     cfg.Cost.LimitUSD,
		EnforceLimit: cfg.Cost.EnforceLimit,
		MaxRecords:   cfg.Cost.MaxRecords,
		Logger:       logger,
	}
	if cfg.Journal.Enabled {
		j, err := tracker.OpenJournal(cfg.Journal.DBPath)
		if err != nil {
			_ = limiter.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
		rt.journal = j
		rt.retention = tracker.NewRetentionScheduler(j, cfg.Journal.Retention, cfg.Journal.PruneSchedule, logger)
		trOpts.Journal = j
	}

	rt.gov = governor.New(
		cache.New(cfg.CacheOptions()),
		tracker.New(trOpts),
		limiter,
		metrics.New(rt.registry),
		logger,
	)

	if cfg.Remote.APIKey != "" {
		c, err := client.New(client.Config{
			BaseURL:         cfg.Remote.BaseURL,
			APIKey:          cfg.Remote.APIKey,
			Model:           cfg.Remote.Model,
			Timeout:         cfg.Remote.Timeout,
			MaxOutputTokens: cfg.Remote.MaxOutputTokens,
		})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("init client: %w", err)
		}
		rt.completer = c
	} else {
		logger.Warn("no API key configured; relay_ask will be unavailable")
	}

	logger.Info("relay initialized",
		slog.String("tier", limiter.Tier().Name),
		slog.String("model", cfg.Remote.Model),
		slog.Bool("cache", cfg.Cache.Enabled),
		slog.Float64("limit_usd", cfg.Cost.LimitUSD),
		slog.Bool("journal", cfg.Journal.Enabled),
	)
	return rt, nil
}

// startBackground starts journal pruning when a journal is open.
func (rt *runtime) startBackground(ctx context.Context) error {
	if rt.retention == nil {
		return nil
	}
	return rt.retention.Start(ctx)
}

// Close stops background work, the limiter and the journal.
func (rt *runtime) Close() error {
	if rt.retention != nil {
		rt.retention.Stop()
	}
	var errs []error
	if err := rt.limiter.Close(); err != nil {
		errs = append(errs, err)
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
