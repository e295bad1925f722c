package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"rpan_bot/internal/bot"
	"rpan_bot/internal/config"
	"rpan_bot/internal/dashboard"
	"rpan_bot/internal/events"
	"rpan_bot/internal/feed"
	"rpan_bot/internal/fetcher"
	"rpan_bot/internal/index"
	"rpan_bot/internal/model"
	"rpan_bot/internal/reddit"
	"rpan_bot/internal/rpan"
	"rpan_bot/internal/scheduler"
	"rpan_bot/internal/settings"
	"rpan_bot/internal/storage"
	"rpan_bot/internal/strapi"
	"rpan_bot/internal/telemetry"
	"rpan_bot/internal/watcher"
	"rpan_bot/internal/webhook"
)

const (
	serviceName    = "rpan_bot"
	serviceVersion = "1.0.0"
	notifyWorkers  = 8
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(log, serviceName, serviceVersion)
	if err != nil {
		log.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	if !storage.IsPostgresURL(cfg.DatabaseURL) {
		if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				log.Error("create data directory", "path", dir, "error", err)
				os.Exit(1)
			}
		}
	}

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	deliverer := webhook.New(httpClient, cfg.AvatarURL, log.With("component", "webhook"))
	admin := webhook.NewAdminLog(deliverer, cfg.AdminWebhookURL)

	ix := index.New(store, cfg.IndexTTL)
	svc := settings.New(store, ix, deliverer, cfg.DefaultPrefixes, log.With("component", "settings"))
	metadata := strapi.New(httpClient, cfg.Reddit.UserAgent)
	bus := events.NewBus(log.With("component", "events"))
	defer bus.Close()

	creds := reddit.Credentials{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		RefreshToken: cfg.Reddit.RefreshToken,
		UserAgent:    cfg.Reddit.UserAgent,
	}
	var redditClient *reddit.Client
	if creds.Valid() {
		redditClient = reddit.NewOAuth(ctx, creds)
	} else {
		log.Warn("reddit credentials not set, using the public API and Atom feeds")
		redditClient = reddit.New(&http.Client{Timeout: 30 * time.Second}, reddit.PublicBaseURL, cfg.Reddit.UserAgent)
	}

	b, err := bot.New(cfg.DiscordToken, bot.Deps{
		Settings:   svc,
		Index:      ix,
		Broadcasts: metadata,
		Reddit:     redditClient,
		Bus:        bus,
		Config:     cfg,
		Admin:      admin,
	}, log.With("component", "bot"))
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(svc, b, metadata, b.Session(), log.With("component", "scheduler"))
	dash := dashboard.New(dashboard.Deps{
		Settings:    svc,
		Index:       ix,
		Provisioner: b,
		Bus:         bus,
		Token:       cfg.DashboardToken,
	}, log.With("component", "dashboard"))

	var wg sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("component stopped", "component", name, "error", err)
				cancel()
			}
		}()
	}

	supervisory := func(err error) bool { return errors.Is(err, reddit.ErrForbidden) }

	var notifier *watcher.Notifier
	if cfg.NotificationsEnabled {
		notifier = watcher.NewNotifier(ix, metadata, deliverer, bus, notifyWorkers, log.With("component", "notifier"))
		list := submissionLister(creds.Valid(), redditClient, fetcher.New(httpClient, fetcher.DefaultBaseURL, cfg.Reddit.UserAgent))
		src := feed.NewPoller(list, func(s model.Submission) string { return s.ID }, cfg.PollInterval)
		start("submissions", func(ctx context.Context) error {
			return watcher.Run(ctx, src, notifier, watcher.Config{Name: "submissions", IsSupervisory: supervisory, Bus: bus}, log)
		})
	}

	if len(cfg.ModChannels) > 0 {
		if !creds.Valid() {
			log.Warn("mod_channels is set but reddit credentials are missing, mod watchers disabled")
		} else {
			subs := slices.Sorted(maps.Keys(cfg.ModChannels))
			mod := watcher.NewModNotifier(cfg.ModChannels, bus, log.With("component", "modnotifier"))
			modID := func(item model.ModItem) string { return string(item.Kind) + ":" + item.ID }

			queue := feed.NewPoller(func(ctx context.Context) ([]model.ModItem, error) {
				return redditClient.ModQueue(ctx, subs)
			}, modID, cfg.PollInterval)
			mail := feed.NewPoller(func(ctx context.Context) ([]model.ModItem, error) {
				return redditClient.ModmailConversations(ctx, subs)
			}, modID, cfg.PollInterval)

			start("modqueue", func(ctx context.Context) error {
				return watcher.Run(ctx, queue, mod, watcher.Config{Name: "modqueue", IsSupervisory: supervisory, Bus: bus}, log)
			})
			start("modmail", func(ctx context.Context) error {
				return watcher.Run(ctx, mail, mod, watcher.Config{Name: "modmail", IsSupervisory: supervisory, Bus: bus}, log)
			})
		}
	}

	start("bot", b.Run)
	start("scheduler", sched.Run)
	start("dashboard", func(ctx context.Context) error { return dash.Run(ctx, cfg.DashboardAddr) })

	log.Info("starting bot", "notifications", cfg.NotificationsEnabled, "mod_subreddits", len(cfg.ModChannels))
	admin.Log(ctx, "Bot Started", "The bot process started.")

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	if notifier != nil {
		notifier.Wait()
	}
	log.Info("bot stopped")
}

// submissionLister picks the authenticated listing when credentials exist and the anonymous
// Atom feed otherwise.
func submissionLister(authenticated bool, rc *reddit.Client, f *fetcher.Fetcher) feed.ListFunc[model.Submission] {
	if authenticated {
		return func(ctx context.Context) ([]model.Submission, error) {
			return rc.NewSubmissions(ctx, rpan.Subreddits)
		}
	}
	return func(ctx context.Context) ([]model.Submission, error) {
		return f.Submissions(ctx, rpan.Subreddits)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
}
