package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feed_relay/internal/bot"
	"feed_relay/internal/config"
	"feed_relay/internal/dispatch"
	"feed_relay/internal/fetcher"
	"feed_relay/internal/opsserver"
	"feed_relay/internal/registry"
	"feed_relay/internal/scheduler"
	"feed_relay/internal/storage"
	"feed_relay/internal/transform"
	"feed_relay/internal/translate"
	"feed_relay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(store, log)
	live, err := reg.Live(ctx)
	if err != nil {
		log.Error("load settings", "error", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	deepl := translate.New(httpClient, func() string { return live.Settings().DeepLAuthKey }, cfg.DeepLAPIURL)
	engine := transform.NewEngine(deepl, log)
	sender := webhook.NewSender(httpClient, webhook.WithTimeout(cfg.HTTPTimeout))
	updater := fetcher.NewUpdater(store, fetcher.New(httpClient), log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []dispatch.Option{
		dispatch.WithWorkers(cfg.FeedWorkers),
		dispatch.WithMetrics(dispatch.NewMetrics(promReg)),
	}

	// The scheduler and the bot reference each other: the bot triggers
	// runs and the dispatcher reports errors through the bot.
	var sched *scheduler.Scheduler
	var b *bot.Bot
	if cfg.TelegramBotToken != "" {
		b, err = bot.New(cfg.TelegramBotToken, reg, store, live, func() { sched.Trigger() }, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		opts = append(opts, dispatch.WithReporter(b))
	}

	disp := dispatch.New(store, updater, reg, engine, sender, log, opts...)

	sched = scheduler.New(
		scheduler.RunnerFunc(func(ctx context.Context) error {
			// Pick up changes made with relayctl since the last pass.
			if err := live.Reload(ctx); err != nil {
				log.Warn("reload settings", "error", err)
			}
			return disp.Run(ctx, live.Settings())
		}),
		func() time.Duration { return time.Duration(live.Settings().DelayMinutes) * time.Minute },
		log,
	)

	log.Info("starting relay", "database", cfg.DatabasePath, "bot", b != nil, "metrics_addr", cfg.MetricsAddr)

	var wg sync.WaitGroup
	if b != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Run(ctx)
		}()
	}
	if cfg.MetricsAddr != "" {
		ops := opsserver.New(cfg.MetricsAddr, promReg, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ops.Run(ctx); err != nil {
				log.Error("ops server", "error", err)
			}
		}()
	}

	sched.Run(ctx)
	wg.Wait()

	log.Info("relay stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
