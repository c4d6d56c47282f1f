package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/travelmate-poc/server/internal/chat/answer"
	"github.com/travelmate-poc/server/internal/chat/assemble"
	"github.com/travelmate-poc/server/internal/chat/gate"
	"github.com/travelmate-poc/server/internal/chat/graph"
	"github.com/travelmate-poc/server/internal/chat/loop"
	"github.com/travelmate-poc/server/internal/chat/model"
	"github.com/travelmate-poc/server/internal/chat/retriever"
	"github.com/travelmate-poc/server/internal/chat/store"
	"github.com/travelmate-poc/server/internal/core"
	"github.com/travelmate-poc/server/internal/httpapi"
	"github.com/travelmate-poc/server/internal/observability"
	logx "github.com/travelmate-poc/server/pkg/logger"
	pkgredis "github.com/travelmate-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment    string `envconfig:"APP_ENV" default:"development"`
	Addr           string `envconfig:"HTTP_ADDR" default:":8080"`
	AllowAnyOrigin bool   `envconfig:"HTTP_ALLOW_ANY_ORIGIN" default:"false"`

	// Infrastructure
	StoreProvider string `envconfig:"STORE_PROVIDER" default:"memory"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	Redis         pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Chat configs
	Response     model.ResponseModelConfig
	Prompt       model.ResponsePromptConfig
	Conversation model.ConversationConfig
	Retrieval    model.RetrievalConfig
	Assembler    model.AssemblerConfig
	Gate         model.GateConfig
}

func main() {
	ctx := context.Background()

	// Load .env file for local runs
	if err := godotenv.Load(".env"); err != nil {
		logx.Debug().Err(err).Msg("No .env file loaded")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		logx.Fatal().Str("ttl", cfg.Conversation.TTL).Err(err).Msg("Invalid CONVERSATION_TTL")
	}
	retrievalTimeout, err := time.ParseDuration(cfg.Retrieval.Timeout)
	if err != nil {
		logx.Fatal().Str("timeout", cfg.Retrieval.Timeout).Err(err).Msg("Invalid RETRIEVAL_TIMEOUT")
	}
	turnTimeout, err := time.ParseDuration(cfg.Response.Timeout)
	if err != nil {
		logx.Fatal().Str("timeout", cfg.Response.Timeout).Err(err).Msg("Invalid RESPONSE_TIMEOUT")
	}

	// Turn store
	storeOpts := store.Options{
		Provider:    cfg.StoreProvider,
		DatabaseURL: cfg.DatabaseURL,
		TTL:         ttl,
	}
	if cfg.StoreProvider == "redis" {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to initialise Redis client")
		}
		defer rdb.Close()
		storeOpts.Redis = rdb
	}
	turnStore, err := store.New(ctx, storeOpts)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to initialise turn store")
	}
	defer turnStore.Close()

	// Gemini client, shared by the chat model and the embeddings retriever
	client, err := answer.NewClient(ctx, answer.ClientConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	chatModel, err := answer.NewChatModel(ctx, client, &cfg.Response)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat model")
	}

	// Knowledge retriever over the embedded travel corpus
	var searcher retriever.Searcher
	switch cfg.Retrieval.Provider {
	case "vector":
		searcher, err = retriever.NewVectorRetriever(ctx, client, cfg.Retrieval.EmbeddingModel, nil)
		if err != nil {
			logx.Fatal().Err(err).Msg("Failed to build vector retriever")
		}
	default:
		searcher = retriever.NewKeywordRetriever(nil)
	}
	knowledge := retriever.New(searcher, cfg.Retrieval.MinScore, retrievalTimeout)

	mode := model.ParseRetrievalMode(cfg.Retrieval.Mode)

	runner, err := graph.BuildTurnGraph(ctx, &graph.Config{
		Store:        turnStore,
		Retriever:    knowledge,
		Assembler:    assemble.New(cfg.Assembler),
		Gate:         gate.New(mode, cfg.Gate),
		ChatModel:    chatModel,
		MaxRetries:   cfg.Response.MaxRetries,
		PromptConfig: cfg.Prompt,
		Mode:         mode,
		WindowTurns:  cfg.Conversation.WindowTurns,
		TopK:         cfg.Retrieval.TopK,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build turn graph")
	}

	metrics := observability.NewMetrics("travelmate")

	chatLoop := loop.New(loop.Config{
		Store:       turnStore,
		Runner:      runner,
		Metrics:     metrics,
		TurnTimeout: turnTimeout,
	})

	server := httpapi.New(httpapi.Config{AllowAnyOrigin: cfg.AllowAnyOrigin}, chatLoop, metrics)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logx.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.StoreProvider).
			Str("retrieval_mode", string(mode)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logx.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
