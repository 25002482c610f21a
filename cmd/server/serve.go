package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hearthmind/hearth"
	"github.com/hearthmind/hearth/internal/config"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/observability"
	"github.com/hearthmind/hearth/internal/ratelimit"
	"github.com/hearthmind/hearth/internal/store/postgres"
	"github.com/hearthmind/hearth/providers/deepseek"
	"github.com/hearthmind/hearth/providers/gemini"
	"github.com/hearthmind/hearth/providers/openailike"
)

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger.Slog())
	logger.Info("starting hearth server", "version", hearth.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	store, err := postgres.New(&postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	chat := newChatProvider(cfg.LLM)

	opts := []hearth.Option{
		hearth.WithModel(cfg.LLM.Model),
		hearth.WithExtractionModel(cfg.LLM.ExtractionModel),
		hearth.WithMaxTokens(cfg.LLM.MaxTokens),
		hearth.WithTemperature(cfg.LLM.Temperature),
		hearth.WithCognitiveDrift(cfg.Behavior.CognitiveDrift),
		hearth.WithTopicExhaustionLimit(time.Duration(cfg.Behavior.TopicExhaustionMinutes) * time.Minute),
		hearth.WithExtractionRate(cfg.Behavior.ExtractionJobsPerSec),
		hearth.WithMoodConfig(mood.Config{
			SessionGap:       time.Duration(cfg.Behavior.SessionGapHours * float64(time.Hour)),
			SocialExhaustion: cfg.Behavior.SocialExhaustion,
		}),
		hearth.WithLogger(logger.Slog()),
		hearth.WithTracer(tracing.Tracer()),
	}

	embedKey := cfg.Embedding.APIKey
	if embedKey == "" {
		embedKey = cfg.LLM.APIKey
	}
	if embedKey != "" {
		embedOpts := []gemini.Option{gemini.WithAPIKey(embedKey), gemini.WithModel(cfg.Embedding.Model)}
		if cfg.Embedding.BaseURL != "" {
			embedOpts = append(embedOpts, gemini.WithBaseURL(cfg.Embedding.BaseURL))
		}
		opts = append(opts, hearth.WithEmbedder(gemini.New(embedOpts...)))
	} else {
		logger.Warn("no embedding key configured, memory retrieval degraded")
	}

	if cfg.RateLimit.UseRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		opts = append(opts, hearth.WithLimiter(ratelimit.NewRedisLimiter(client, store,
			ratelimit.WithRedisCap(cfg.RateLimit.FreeTierDailyCap))))
	} else {
		opts = append(opts, hearth.WithLimiter(ratelimit.NewStoreLimiter(store,
			ratelimit.WithCap(cfg.RateLimit.FreeTierDailyCap))))
	}

	engine, err := hearth.New(store, chat, opts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	cfgManager.OnChange(func(c *config.Config) {
		engine.SetBehavior(c.Behavior.CognitiveDrift,
			time.Duration(c.Behavior.TopicExhaustionMinutes)*time.Minute)
		logger.Info("behavior config reloaded",
			"cognitive_drift", c.Behavior.CognitiveDrift,
			"topic_exhaustion_minutes", c.Behavior.TopicExhaustionMinutes)
	})

	handler := newHandler(engine, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", handler.healthLive)
	mux.HandleFunc("GET /health/ready", handler.healthReady(store))
	mux.HandleFunc("POST /v1/turn", handler.turn)
	mux.HandleFunc("POST /v1/turn/stream", handler.turnStream)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	// Let in-flight extraction jobs land before the process exits.
	engine.Wait()
	return nil
}

func newLogger(cfg config.LoggingConfig) *observability.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		JSONFormat: cfg.Format != "text",
	})
}

func newChatProvider(cfg config.LLMConfig) *openailike.Provider {
	switch cfg.Provider {
	case "deepseek", "":
		opts := []openailike.Option{openailike.WithAPIKey(cfg.APIKey), openailike.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, openailike.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, openailike.WithModel(cfg.Model))
		}
		return deepseek.New(opts...).Provider
	default:
		return openailike.New(openailike.Info{
			Name:           cfg.Provider,
			DefaultBaseURL: cfg.BaseURL,
		},
			openailike.WithAPIKey(cfg.APIKey),
			openailike.WithModel(cfg.Model),
			openailike.WithTimeout(cfg.Timeout),
		)
	}
}
