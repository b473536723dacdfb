package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/polyagent/internal/config"
	"github.com/rewired-gh/polyagent/internal/decision"
	"github.com/rewired-gh/polyagent/internal/engine"
	"github.com/rewired-gh/polyagent/internal/logger"
	"github.com/rewired-gh/polyagent/internal/models"
	"github.com/rewired-gh/polyagent/internal/polymarket"
	"github.com/rewired-gh/polyagent/internal/reasoning"
	"github.com/rewired-gh/polyagent/internal/storage"
	"github.com/rewired-gh/polyagent/internal/telegram"
	"github.com/rewired-gh/polyagent/internal/toolprovider"
)

var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	marketID    = flag.String("market", "", "Analyze a single market by ID instead of the top liquid markets")
	parallelism = flag.Int("parallelism", 2, "Number of markets analyzed concurrently")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Initialize storage
	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxRecommendations)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize Polymarket client
	polyClient := polymarket.NewClient(cfg.Polymarket.GammaAPIURL, cfg.Polymarket.Timeout)

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if !cfg.Trading.ExecutionEnabled {
		logger.Info("Trade execution is disabled; decisions will be logged only")
	}

	if err := runAnalysis(ctx, cfg, polyClient, store, telegramClient); err != nil {
		logger.Fatal("Analysis run failed: %v", err)
	}
}

func runAnalysis(
	ctx context.Context,
	cfg *config.Config,
	polyClient *polymarket.Client,
	store *storage.Store,
	telegramClient *telegram.Client,
) error {
	startTime := time.Now()

	// Select markets to analyze
	var snapshots []models.MarketSnapshot
	if *marketID != "" {
		snap, err := polyClient.FetchMarket(ctx, *marketID)
		if err != nil {
			return err
		}
		snapshots = []models.MarketSnapshot{*snap}
	} else {
		var err error
		snapshots, err = polyClient.FetchMarkets(ctx, cfg.Polymarket.MinLiquidity, cfg.Polymarket.MaxMarkets)
		if err != nil {
			return err
		}
	}
	if len(snapshots) == 0 {
		logger.Info("No markets matched the selection criteria")
		return nil
	}
	logger.Info("Analyzing %d markets", len(snapshots))

	providerCfg := toolprovider.Config{
		Name:           cfg.ToolProvider.Name,
		Endpoint:       cfg.ToolProvider.Endpoint,
		APIKey:         cfg.ToolProvider.APIKey,
		ConnectTimeout: cfg.ToolProvider.ConnectTimeout,
		EnableCache:    cfg.ToolProvider.EnableCache,
		CacheTTL:       cfg.ToolProvider.CacheTTL,
		MaxRetries:     cfg.ToolProvider.MaxRetries,
		RetryDelayBase: cfg.ToolProvider.RetryDelayBase,
	}
	reasoningCfg := reasoning.Config{
		BaseURL:     cfg.Reasoning.BaseURL,
		APIKey:      cfg.Reasoning.APIKey,
		Model:       cfg.Reasoning.Model,
		Temperature: cfg.Reasoning.Temperature,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		Timeout:     cfg.Reasoning.Timeout,
		MaxRetries:  cfg.Reasoning.MaxRetries,
	}

	// Each analysis session gets its own provider connection.
	newEngine := func() *engine.Engine {
		provider := toolprovider.New(providerCfg)
		return engine.New(provider, reasoning.New(reasoningCfg, provider), reasoningCfg)
	}

	results := engine.AnalyzeBatch(ctx, snapshots, *parallelism, newEngine)

	for _, res := range results {
		if res.Err != nil {
			logger.Error("Analysis failed for market %s: %v", res.Snapshot.ID, res.Err)
			continue
		}
		rec := res.Recommendation

		dec := decision.Decide(rec, cfg.Trading.ConfidenceThreshold, cfg.Trading.MaxTradeAmount)
		if dec.Execute {
			if cfg.Trading.ExecutionEnabled {
				logger.Info("Trade signal for market %s: %s side, up to %.2f USDC (trace: %s)",
					res.Snapshot.ID, dec.Side, dec.Amount, rec.TraceID)
			} else {
				logger.Info("Trade signal for market %s suppressed, execution disabled: %s side, up to %.2f USDC (trace: %s)",
					res.Snapshot.ID, dec.Side, dec.Amount, rec.TraceID)
			}
		} else {
			logger.Info("No trade for market %s: %s (action: %s, confidence: %.2f, trace: %s)",
				res.Snapshot.ID, dec.Reason, rec.Action, rec.Confidence, rec.TraceID)
		}

		if err := store.SaveRecommendation(res.Snapshot.ID, res.Snapshot.Question, rec); err != nil {
			logger.Warn("Failed to persist recommendation for market %s: %v", res.Snapshot.ID, err)
		}

		if telegramClient != nil {
			if err := telegramClient.SendRecommendation(res.Snapshot.Question, rec, dec); err != nil {
				logger.Warn("Failed to send Telegram notification for market %s: %v", res.Snapshot.ID, err)
			}
		}
	}

	logger.Info("Analysis run completed in %v", time.Since(startTime))
	return nil
}
