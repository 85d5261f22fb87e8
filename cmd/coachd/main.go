package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"stride/internal/agent"
	"stride/internal/coach"
	"stride/internal/config"
	"stride/internal/gateway"
	"stride/internal/llm"
	"stride/internal/llmclient"
	"stride/internal/logging"
	"stride/internal/program"
	"stride/internal/store"
	"stride/internal/transform"
	"stride/internal/vector"
)

const systemPrompt = `You are a strength and conditioning coach. Work through
the user's request step by step with the available tools: load their
requirements, generate a program, validate it, then normalize and save it
only if validation passes. Search their history when past context would
improve the program. Explain what you are doing as you go.`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Nop().Fatal("load config", zap.Error(err))
	}
	log := logging.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	streamClient := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:  cfg.Anthropic.APIKey,
		BaseURL: cfg.Anthropic.BaseURL,
		Model:   cfg.Anthropic.Model,
		Timeout: cfg.Loop.JobTimeout,
	})

	gemini, err := llmclient.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, 1_000_000)
	if err != nil {
		log.Fatal("init gemini client", zap.Error(err))
	}
	jsonClient := llm.Chain(gemini,
		llm.WithLogging(log.Named("llm")),
		llm.Retry(3, 2*time.Second),
	)

	var kv *store.KV
	if cfg.Store.DSN != "" {
		kv, err = store.NewPostgres(cfg.Store.DSN)
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
	} else {
		log.Warn("COACH_PG_DSN not set, using in-memory store")
		kv = store.NewMemory()
	}
	defer func() { _ = kv.Close() }()

	var blob coach.Blob
	var artifacts gateway.ArtifactStore
	if cfg.Blob.Enabled {
		blobStore, err := store.NewBlobStore(store.BlobConfig{
			Endpoint:  cfg.Blob.Endpoint,
			Region:    cfg.Blob.Region,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
		})
		if err != nil {
			log.Warn("blob store disabled", zap.Error(err))
		} else {
			blob = blobStore
			artifacts = blobStore
		}
	}

	var embedder vector.Embedder
	if cfg.Gemini.APIKey != "" {
		embedder, err = llmclient.NewGeminiEmbedder(ctx, cfg.Gemini.APIKey, cfg.Gemini.EmbeddingModel)
		if err != nil {
			log.Warn("embedder unavailable, history search falls back to keywords", zap.Error(err))
		}
	}
	history, err := vector.Open(cfg.Vector.Path, embedder, log.Named("vector"))
	if err != nil {
		log.Fatal("open history index", zap.Error(err))
	}
	defer func() { _ = history.Close() }()

	orchestrator := &program.Orchestrator{
		Client: jsonClient,
		Log:    log.Named("program"),
	}

	registry, err := coach.NewRegistry(coach.Deps{
		KV:        kv,
		Blob:      blob,
		History:   history,
		Generator: orchestrator,
		Shrink:    &transform.Compressor{Client: jsonClient, Log: log.Named("transform")},
		Log:       log.Named("coach"),
	})
	if err != nil {
		log.Fatal("build tool registry", zap.Error(err))
	}

	loop := &agent.Loop{
		Stream:        streamClient,
		Tools:         registry,
		System:        systemPrompt,
		MaxIterations: cfg.Loop.MaxIterations,
		MaxTokens:     cfg.Loop.MaxTokens,
		Log:           log.Named("agent"),
	}

	broker := gateway.NewEventBroker()
	runs := gateway.NewRunService(loop, broker, log.Named("gateway"))
	runs.Timeout = cfg.Loop.JobTimeout
	handler := gateway.NewHandler(runs, artifacts, log.Named("gateway"))
	server := gateway.NewServer(cfg.Port, handler.Mux(), log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}
}
