// Package bot implements lifecycle management and component orchestration
// for the goldenaxe Telegram bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/goldenaxe/internal/config"
	"github.com/edgard/goldenaxe/internal/engine"
	"github.com/edgard/goldenaxe/internal/reporter"
	"github.com/edgard/goldenaxe/internal/server"
	"github.com/edgard/goldenaxe/internal/telegram"
)

// Bot represents the main bot application and manages its components' lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	runID     string
	tgBot     *tgbot.Bot
	engine    *engine.Engine
	reporter  *reporter.Reporter
	scheduler *Scheduler
	server    *server.Server
}

// NewBot creates a new instance of the bot with all required dependencies.
// runID identifies this process in notices and, in webhook mode, is the
// secret path Telegram posts updates to.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	runID string,
	tgBot *tgbot.Bot,
	eng *engine.Engine,
	rep *reporter.Reporter,
	scheduler *Scheduler,
	srv *server.Server,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		runID:     runID,
		tgBot:     tgBot,
		engine:    eng,
		reporter:  rep,
		scheduler: scheduler,
		server:    srv,
	}
}

// WebhookURL is where Telegram delivers updates in webhook mode.
func (b *Bot) WebhookURL() string {
	return fmt.Sprintf("https://%s/%s", b.cfg.Telegram.WebhookDomain, b.runID)
}

// Run starts the bot and all its components, handling graceful shutdown on context cancellation.
// It returns an error if any component fails during startup or execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...", "run_id", b.runID, "mode", b.cfg.Telegram.Mode)

	if err := b.prepareDelivery(ctx); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.reporter.Run(gCtx)
	})

	g.Go(func() error {
		return b.engine.Run(gCtx)
	})

	g.Go(func() error {
		return b.server.Run(gCtx)
	})

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener...")

		if b.cfg.Telegram.Mode == config.ModeWebhook {
			b.tgBot.StartWebhook(gCtx)
		} else {
			b.tgBot.Start(gCtx)
		}
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
			b.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	b.reporter.Notify(fmt.Sprintf("goldenaxe online (run #%s)", b.runID))

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	offlineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	b.reporter.Deliver(offlineCtx, fmt.Sprintf("goldenaxe offline (run #%s)", b.runID))

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// prepareDelivery points Telegram at the right update channel for the mode.
func (b *Bot) prepareDelivery(ctx context.Context) error {
	if b.cfg.Telegram.Mode != config.ModeWebhook {
		if err := telegram.DeleteWebhook(ctx, b.tgBot); err != nil {
			return fmt.Errorf("failed to switch to polling: %w", err)
		}
		return nil
	}

	url := b.WebhookURL()
	if err := telegram.SetupWebhook(ctx, b.tgBot, url, b.cfg.Telegram.WebhookSecret); err != nil {
		return err
	}
	b.logger.Info("Webhook registered", "domain", b.cfg.Telegram.WebhookDomain)
	b.reporter.Notify("Webhook: " + url)
	return nil
}
