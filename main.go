package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/vehicle-listing-bot/config"
	"github.com/raine/vehicle-listing-bot/internal/bot"
	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/httpserver"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/market"
	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/metrics"
	"github.com/raine/vehicle-listing-bot/internal/objectstore"
	"github.com/raine/vehicle-listing-bot/internal/photo"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/storage"
)

const (
	logFileName = "vehicle-listing-bot.log"

	// Upper bound for photo bytes held in memory across all sessions.
	registryBudget = 512 << 20
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("failed to load config: %v", err)
	}

	if missing := cfg.Missing(); len(missing) > 0 {
		if isInteractiveTerminal() {
			if !runSetupWizard() {
				waitOnWindows()
				os.Exit(1)
			}
			if cfg, err = config.Load(); err != nil {
				fatalWithWait("failed to load config: %v", err)
			}
		} else {
			// Non-interactive (systemd, k8s, etc.) - fail with clear error
			fatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
	}
	if err := cfg.Validate(); err != nil {
		fatalWithWait("%v", err)
	}

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd, journald handles it.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fatalWithWait("failed to initialize listing store: %v", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("listing store initialized")

	registry := prometheus.NewRegistry()
	pipelineMetrics, err := metrics.NewPipeline(registry)
	if err != nil {
		fatalWithWait("failed to register metrics: %v", err)
	}

	deps, checks, err := buildDeps(ctx, cfg, store, pipelineMetrics)
	if err != nil {
		fatalWithWait("%v", err)
	}

	tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		fatalWithWait("failed to initialize telegram bot: %v", err)
	}
	tg.Debug = false
	log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

	bot.RegisterCommands(tg)

	b := bot.NewBot(tg, store, bot.Config{
		Deps:             deps,
		DefaultLocation:  cfg.Location,
		AnalysisTimeout:  cfg.AnalysisTimeout,
		DictationTimeout: cfg.TranscriptionTimeout,
	})

	router := httpserver.NewRouter(httpserver.Options{
		Checks:   checks,
		Registry: deps.Store.Registry(),
		Metrics:  pipelineMetrics.Handler(),
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runBot(ctx, tg, b)
	})

	g.Go(func() error {
		return httpserver.Serve(ctx, cfg.HTTPAddr, router)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// buildDeps creates the pipeline collaborators shared by every session,
// together with the health checks of the external ones.
func buildDeps(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, m *metrics.Pipeline) (pipeline.Deps, map[string]httpserver.CheckFunc, error) {
	checks := map[string]httpserver.CheckFunc{
		"sqlite": func(context.Context) error { return store.Ping() },
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return pipeline.Deps{}, nil, err
	}
	log.Info().Msg("gemini client initialized")

	var transcriber dictation.Transcriber = gemini
	if cfg.OpenAIAPIKey != "" {
		transcriber = llm.NewWhisperTranscriber(cfg.OpenAIAPIKey)
		log.Info().Msg("using whisper for transcription")
	}

	var provider market.Provider
	if cfg.MarketEnabled() {
		provider = market.NewClient(market.ClientOpts{
			BaseURL:  cfg.MarketAPIURL,
			APIKey:   cfg.MarketAPIKey,
			CacheTTL: cfg.MarketCacheTTL,
		})
		log.Info().Str("url", cfg.MarketAPIURL).Msg("market data enabled")
	}

	var uploader objectstore.Uploader
	if cfg.MinioEnabled() {
		minio, err := objectstore.NewMinioStore(ctx, objectstore.Config{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			Region:        cfg.MinioRegion,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return pipeline.Deps{}, nil, err
		}
		uploader = minio
		checks["minio"] = minio.Healthy
		log.Info().Str("bucket", cfg.MinioBucket).Msg("object storage enabled")
	} else {
		log.Warn().Msg("object storage not configured, photos will be submitted inline")
	}

	table := pricing.DefaultTable()
	if cfg.PricingTablePath != "" {
		if table, err = pricing.LoadTable(cfg.PricingTablePath); err != nil {
			return pipeline.Deps{}, nil, err
		}
		log.Info().Str("path", cfg.PricingTablePath).Msg("pricing table loaded")
	}

	composer, err := describe.NewComposer("")
	if err != nil {
		return pipeline.Deps{}, nil, err
	}

	converter := media.ChainConverter{media.DecodingConverter{}}
	if cfg.HEICConverterCmd != "" {
		converter = append(converter, media.NewHEIFConverter(cfg.HEICConverterCmd))
	}
	normalizer := media.NewNormalizer(converter, media.Options{})

	photoRegistry := photo.NewRegistry(registryBudget)

	return pipeline.Deps{
		Store:       photo.NewStore(photoRegistry, normalizer),
		Normalizer:  normalizer,
		Renderer:    photo.NewRenderer(photoRegistry),
		Pricing:     pricing.NewEngine(table),
		Composer:    composer,
		Analyzer:    llm.NewCachedAnalyzer(gemini, store),
		Market:      provider,
		Transcriber: transcriber,
		Extractor:   gemini,
		Persister:   objectstore.NewPersister(uploader, "listings", cfg.UploadTimeout),
		Listings:    store,
		Metrics:     m,
	}, checks, nil
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	stop := func() {
		wg.Wait()
		log.Info().Msg("closing sessions")
		b.Shutdown()
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			stop()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				stop()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
