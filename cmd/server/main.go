package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/audience/internal/api"
	"github.com/gyaneshwarpardhi/audience/internal/campaign"
	"github.com/gyaneshwarpardhi/audience/internal/compose"
	"github.com/gyaneshwarpardhi/audience/internal/config"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
	"github.com/gyaneshwarpardhi/audience/internal/dashboard"
	"github.com/gyaneshwarpardhi/audience/internal/delivery"
	"github.com/gyaneshwarpardhi/audience/internal/segment"
	"github.com/gyaneshwarpardhi/audience/internal/sender"
	"github.com/gyaneshwarpardhi/audience/internal/storage/sqlite"
)

func main() {
	cfgPath := flag.String("config", "configs/audience.yaml", "Path to YAML config")
	flag.Parse()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, nil)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──────────────────────────────────────────────────────────────
	store, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store opened", "path", cfg.Storage.Path)

	// ── Dashboard counters ───────────────────────────────────────────────────
	counters := openCounters(ctx, cfg.Redis)
	agg := dashboard.NewAggregator(store, counters, logger)

	// ── Delivery ─────────────────────────────────────────────────────────────
	snd, simulated := buildSender(cfg.Sender, logger)
	disp := delivery.New(ctx, store, snd, agg, delivery.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueDepth: cfg.Dispatch.QueueDepth,
		Policy:     policyFrom(cfg.Dispatch),
	}, logger)

	// Outcomes of sends interrupted by the last shutdown are unknown; close them,
	// rebuild totals from the records while nothing is sending, then resume.
	if err := disp.Reconcile(ctx); err != nil {
		slog.Error("delivery recovery failed", "err", err)
		os.Exit(1)
	}
	if totals, err := agg.Rebuild(ctx); err != nil {
		slog.Warn("dashboard totals not rebuilt", "err", err)
	} else {
		slog.Info("dashboard totals rebuilt", "sent", totals.Sent, "failed", totals.Failed)
	}
	if err := disp.Resume(ctx); err != nil {
		slog.Error("delivery resume failed", "err", err)
		os.Exit(1)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	segs := segment.NewService(store, logger)
	eval := segment.NewEvaluator(store)
	renderer := compose.NewRenderer()
	sched := campaign.NewScheduler(store, segs, eval, renderer, disp, logger)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		disp.SetPolicy(policyFrom(newCfg.Dispatch))
		if simulated != nil {
			simulated.SetFailureRate(newCfg.Sender.FailureRate)
		}
		slog.Info("dispatch policy hot-reloaded",
			"max_attempts", newCfg.Dispatch.MaxAttempts,
			"failure_rate", newCfg.Sender.FailureRate)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Customers: customer.NewService(store, logger),
		Segments:  segs,
		Evaluator: eval,
		Campaigns: sched,
		Composer:  compose.NewTemplateComposer(renderer),
		Dashboard: agg,
		Queue:     disp,
		Store:     store,
		Loader:    loader,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	disp.Shutdown()
	cancel()
	slog.Info("goodbye")
}

// openCounters uses Redis when configured and reachable, otherwise process memory.
// Either way the totals are rebuilt from the store at startup.
func openCounters(ctx context.Context, rc config.RedisConf) dashboard.Counters {
	if rc.Addr == "" {
		return dashboard.NewMemoryCounters()
	}
	client := redis.NewClient(&redis.Options{Addr: rc.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable; using in-memory dashboard counters", "addr", rc.Addr, "err", err)
		_ = client.Close()
		return dashboard.NewMemoryCounters()
	}
	slog.Info("dashboard counters in redis", "addr", rc.Addr, "key", rc.Key)
	return dashboard.NewRedisCounters(client, rc.Key)
}

// buildSender returns the configured sender. The simulated sender is also returned on
// its own so its failure rate can follow config reloads.
func buildSender(sc config.SenderConf, logger *slog.Logger) (delivery.Sender, *sender.Simulated) {
	switch sc.Kind {
	case "log":
		return sender.NewLog(logger), nil
	case "webhook":
		return sender.NewWebhook(sc.URL, nil), nil
	default:
		s := sender.NewSimulated(sc.FailureRate, sc.MaxLatency(), time.Now().UnixNano())
		return s, s
	}
}

func policyFrom(d config.DispatchConf) delivery.Policy {
	return delivery.Policy{
		MaxAttempts: d.MaxAttempts,
		Backoff: delivery.BackoffConfig{
			BaseDelay: d.BackoffBase(),
			MaxDelay:  d.BackoffMax(),
		},
		SendTimeout: d.SendTimeout(),
	}
}
