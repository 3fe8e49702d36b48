// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DmitryPavl/hackreality-main-bot/config"
	"github.com/DmitryPavl/hackreality-main-bot/internal/bot"
	"github.com/DmitryPavl/hackreality-main-bot/internal/content"
	"github.com/DmitryPavl/hackreality-main-bot/internal/db"
	"github.com/DmitryPavl/hackreality-main-bot/internal/engine"
	"github.com/DmitryPavl/hackreality-main-bot/internal/notify"
	"github.com/DmitryPavl/hackreality-main-bot/internal/payment"
	"github.com/DmitryPavl/hackreality-main-bot/internal/scheduler"
	"github.com/DmitryPavl/hackreality-main-bot/internal/server"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

func main() {
	// Initialize logger
	l := logger.New()
	l.Infow("Starting HackReality Bot...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l.Fatalw("Failed to load config", "error", err)
	}

	// The bot cannot run without its own token. Everything else has a
	// degraded mode: no admin token means file-only notifications, no
	// Stripe key means manual transfers only, no GPT key means the
	// built-in task rotation.
	if cfg.Telegram.Token == "" {
		l.Fatalw("Telegram token is not configured")
	}

	// Initialize the session store with retry
	var store *db.PostgresStore
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		store, err = db.NewPostgresStore(db.Config{
			Host:         cfg.DB.Host,
			Port:         cfg.DB.Port,
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			DBName:       cfg.DB.DBName,
			SSLMode:      cfg.DB.SSLMode,
			MaxOpenConns: cfg.DB.MaxOpenConns,
			MaxIdleConns: cfg.DB.MaxIdleConns,
			ConnLifetime: cfg.DB.ConnLifetime,
		})
		if err == nil {
			break
		}
		l.Errorw("Failed to connect to database, retrying...", "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if store == nil {
		l.Fatalw("Failed to connect to database after multiple attempts", "error", err)
	}
	defer store.Close()

	// Admin notifications: Telegram bridge with a file fallback
	fallback, err := notify.NewFallbackLog(cfg.Notify.FallbackPath)
	if err != nil {
		l.Fatalw("Failed to open notification fallback log", "error", err)
	}
	bridge, err := notify.NewTelegramBridge(cfg.Admin.BotToken, cfg.Admin.ChatID, fallback, l.Named("notify"))
	if err != nil {
		l.Fatalw("Failed to create admin notification bridge", "error", err)
	}
	defer bridge.Close()

	// Initialize Stripe client
	stripeClient := payment.NewStripeClient(payment.Config{
		SecretKey: cfg.Stripe.SecretKey,
		PriceID:   cfg.Stripe.PriceID,
	})
	if !stripeClient.Configured() {
		l.Warnw("Stripe is not configured, checkout links disabled")
	}

	// Iteration content: GPT with a static fallback
	var generator content.Generator = content.StaticGenerator{}
	if cfg.GPT.APIKey != "" {
		generator = content.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)
	} else {
		l.Warnw("GPT API key is not configured, using built-in tasks")
	}

	// Assemble the engine and its scheduler
	eng := engine.New(store, bridge, generator, stripeClient, l.Named("engine"))
	sched := scheduler.New(eng, l.Named("scheduler"))
	eng.AttachScheduler(sched)

	// Create and start bot
	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, eng, l.Named("bot"))
	if err != nil {
		l.Fatalw("Failed to create Telegram bot", "error", err)
	}
	eng.AttachSender(telegramBot)
	// Checkout return links must point at whatever the bot is currently
	// named, not a baked-in handle.
	stripeClient.SetBotUsername(telegramBot.Username())

	ctx := context.Background()
	if err := telegramBot.Start(ctx); err != nil {
		l.Fatalw("Failed to start Telegram bot", "error", err)
	}

	// Re-arm delivery timers for sessions that were active before the
	// restart. Runs after the bot is up so abandon prompts can be sent.
	sessions, err := store.ActiveSessions(ctx)
	if err != nil {
		l.Fatalw("Failed to load active sessions", "error", err)
	}
	sched.Rehydrate(ctx, sessions)

	// Start health endpoint server
	httpServer := server.NewServer(cfg.Server.Port, l.Named("server"))
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Infow("Shutting down bot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then the timers, so nothing new is scheduled
	// while deliveries drain.
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}
	telegramBot.Stop(shutdownCtx)
	sched.Stop()

	l.Infow("Bot stopped successfully")
}
