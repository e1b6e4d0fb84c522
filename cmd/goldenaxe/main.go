// Package main contains the entrypoint for the goldenaxe Telegram bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/goldenaxe/internal/bot"
	"github.com/edgard/goldenaxe/internal/bot/handlers"
	"github.com/edgard/goldenaxe/internal/bot/tasks"
	"github.com/edgard/goldenaxe/internal/config"
	"github.com/edgard/goldenaxe/internal/database"
	"github.com/edgard/goldenaxe/internal/engine"
	"github.com/edgard/goldenaxe/internal/logger"
	"github.com/edgard/goldenaxe/internal/reporter"
	"github.com/edgard/goldenaxe/internal/server"
	"github.com/edgard/goldenaxe/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component (config, logger, db, telegram client, engine,
// reporter, scheduler, http server), blocks until shutdown, and returns an
// exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	runID := uuid.NewString()
	clock := clockwork.NewRealClock()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	// The engine needs the Telegram client and the client's default handler
	// needs the engine, so handlers reach the engine through this variable.
	var eng *engine.Engine
	hDeps := handlers.HandlerDeps{
		Logger: log,
		Engine: handlers.SubmitFunc(func(ctx context.Context, u engine.Update) error {
			return eng.Submit(ctx, u)
		}),
	}

	if cfg.Telegram.Mode == config.ModeWebhook && cfg.Telegram.WebhookSecret == "" {
		cfg.Telegram.WebhookSecret = uuid.NewString()
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.IgnoreBots(hDeps)(handlers.NewDispatchHandler(hDeps))),
		tgbot.WithAllowedUpdates(tgbot.AllowedUpdates(telegram.AllowedUpdates)),
	}
	if cfg.Telegram.WebhookSecret != "" {
		botOpts = append(botOpts, tgbot.WithWebhookSecretToken(cfg.Telegram.WebhookSecret))
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	platform := telegram.NewPlatform(tg, log)
	rep := reporter.New(reporter.Config{
		ChatID: cfg.Telegram.DebugChatID,
		Buffer: cfg.Engine.ReportBuffer,
	}, platform, log, clock)

	admins := engine.NewAdminCache(platform, clock, cfg.Engine.AdminCacheTTL)
	eng = engine.New(engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		MaxTitleLength: cfg.Engine.MaxTitleLength,
		AttemptTimeout: cfg.Engine.AttemptTimeout,
		Retry:          cfg.Engine.RetryPolicy(),
	}, engine.Deps{
		Logger:   log,
		Parser:   engine.NewParser(me.Username),
		Gate:     engine.NewGate(admins, me.ID, cfg.Engine.AllowSelfTitle, log),
		Admins:   admins,
		Platform: platform,
		Registry: store,
		Reporter: rep,
		Clock:    clock,
		Messages: cfg.Messages,
	})

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}
	if err := telegram.SetCommands(ctx, tg, cmdHandlers); err != nil {
		log.Warn("Failed to publish command list", "error", err)
	}

	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		AdminCache: admins,
		Clock:      clock,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, clock, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	var srvOpts []server.Option
	if cfg.Telegram.Mode == config.ModeWebhook {
		srvOpts = append(srvOpts, server.WithWebhook(runID, tg.WebhookHandler()))
	}
	srv := server.NewServer(cfg.Telegram.ListenAddr, log, srvOpts...)

	app := bot.NewBot(log, cfg, runID, tg, eng, rep, sched, srv)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
