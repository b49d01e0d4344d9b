package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/exislow/telegram-stonks-bot/internal/config"
	"github.com/exislow/telegram-stonks-bot/internal/currency"
	"github.com/exislow/telegram-stonks-bot/internal/logger"
	"github.com/exislow/telegram-stonks-bot/internal/quotes"
	"github.com/exislow/telegram-stonks-bot/internal/storage"
	"github.com/exislow/telegram-stonks-bot/internal/telegram"
	"github.com/exislow/telegram-stonks-bot/internal/watcher"
	"github.com/exislow/telegram-stonks-bot/internal/yahoo"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Optional .env for local development; config values still come from
	// the YAML file plus STONKS_BOT_* environment overrides.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Skipping .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	yahooClient := yahoo.NewClient(
		cfg.Yahoo.QueryAPIURL,
		cfg.Yahoo.SearchAPIURL,
		cfg.Yahoo.Timeout,
		yahoo.Config{
			MaxRetries:     cfg.Yahoo.MaxRetries,
			RetryDelayBase: cfg.Yahoo.RetryDelayBase,
		},
	)

	converter := currency.New(yahooClient, cfg.Locale.Currency)
	resolver := quotes.NewResolver(yahooClient, converter, cfg.Location())

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.MasterChatID, 3, cfg.Yahoo.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram transport disabled, running watcher dry")
	}

	watcherConfig := watcher.Config{
		Interval:      cfg.Watcher.Interval,
		RiseThreshold: cfg.Watcher.RiseThreshold,
		FallThreshold: cfg.Watcher.FallThreshold,
		Currency:      cfg.Locale.Currency,
	}

	var sender watcher.Sender = nopSender{}
	var reporter watcher.Reporter
	if telegramClient != nil {
		sender = telegramClient
		reporter = telegramClient
	}
	w := watcher.New(store, resolver, sender, nil, reporter, watcherConfig, cfg.Location())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		w.Stop()
		cancel()
	}()

	if telegramClient != nil {
		bot := telegram.NewBot(telegramClient, store, resolver, w,
			cfg.Telegram.AdminUserIDs, cfg.Watcher.SymbolLimit, cfg.Locale.Currency)
		bot.Listen(ctx)
	}

	if err := w.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher: %v", err)
	}

	logger.Debug("Running initial rise/fall tick")
	if err := w.Tick(ctx); err != nil {
		logger.Error("Initial tick failed: %v", err)
	}

	<-ctx.Done()
	logger.Info("Service stopped")
}

// nopSender swallows outbound messages when the Telegram transport is
// disabled, useful for local dry runs against the real market data API.
type nopSender struct{}

func (nopSender) SendText(chatID int64, text string) error {
	logger.Info("[dry-run] chat %d: %s", chatID, text)
	return nil
}

func (nopSender) SendPhoto(chatID int64, _ []byte, caption string) error {
	logger.Info("[dry-run] chat %d: photo %s", chatID, caption)
	return nil
}
