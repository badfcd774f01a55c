package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ragchat/internal/chat"
	"ragchat/internal/chunker"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/hash"
	"ragchat/internal/extract"
	"ragchat/internal/llm/ollama"
	"ragchat/internal/llm/openai"
	"ragchat/internal/registry"
	"ragchat/internal/service"
	"ragchat/internal/summarizer"
	"ragchat/internal/vectorstore/bolt"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.AppConfig
	log       *slog.Logger
	index     domain.VectorIndex
	store     *registry.SQLiteStore
	retrieval *service.RetrievalService
	pipeline  *service.DocumentPipeline
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newApp(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "word":
		c, err := chunker.NewWordChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
		if err != nil {
			return nil, err
		}
		ch = c
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hash":
		emb = hash.NewEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var sum domain.Summarizer
	switch cfg.Summarizer.Type {
	case "frequency", "":
		sum = summarizer.NewFrequencySummarizer()
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}

	index, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Documents.DatabasePath), 0o755); err != nil {
		index.Close()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := registry.Open(cfg.Documents.DatabasePath)
	if err != nil {
		index.Close()
		return nil, err
	}

	retrieval := service.NewRetrievalService(ch, emb, index, logger.With("component", "retrieval"))
	pipeline := service.NewDocumentPipeline(service.PipelineConfig{
		UploadDir:        cfg.Documents.UploadDir,
		MaxFileSize:      cfg.Documents.MaxFileSize,
		AllowedTypes:     cfg.AllowedTypes(),
		Workers:          cfg.Documents.Workers,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}, store, extract.New(logger.With("component", "extract")), retrieval, sum, logger.With("component", "pipeline"))

	logger.Info("components ready",
		"chunker", cfg.Chunker.Type, "embedder", emb.Name(),
		"vector_store", cfg.VectorStore.Type, "registry", cfg.Documents.DatabasePath)
	return &app{cfg: cfg, log: logger, index: index, store: store, retrieval: retrieval, pipeline: pipeline}, nil
}

func openIndex(ctx context.Context, cfg *config.AppConfig) (domain.VectorIndex, error) {
	dim := cfg.Embedder.Dimension
	switch cfg.VectorStore.Type {
	case "memory":
		return memory.NewStorage(dim)
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.VectorStore.Bolt.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return bolt.Open(cfg.VectorStore.Bolt.Path, dim)
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		return qdrant.NewStorage(ctx, qdrant.Config{
			Host:       q.Host,
			Port:       q.Port,
			APIKey:     q.APIKey(),
			UseTLS:     q.UseTLS,
			Collection: q.Collection,
			Dimension:  dim,
		})
	}
	return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
}

// provider builds the configured completion provider behind the retry policy.
func (a *app) provider() (domain.CompletionProvider, error) {
	llm := a.cfg.LLM
	var (
		p   domain.CompletionProvider
		err error
	)
	switch llm.Provider {
	case "openai":
		p, err = openai.New(openai.Config{
			BaseURL: llm.OpenAI.BaseURL,
			APIKey:  llm.APIKey(),
			Model:   llm.Model,
			Timeout: llm.Timeout(),
		})
	case "ollama":
		p, err = ollama.New(ollama.Config{URL: llm.Ollama.URL, Model: llm.Model, Timeout: llm.Timeout()})
	default:
		err = fmt.Errorf("unknown llm provider: %s", llm.Provider)
	}
	if err != nil {
		return nil, err
	}
	return chat.NewRetryingProvider(p, chat.RetryPolicy{
		MaxAttempts: llm.Retry.MaxAttempts,
		BaseDelay:   llm.Retry.BaseDelay(),
		MaxDelay:    llm.Retry.MaxDelay(),
	}, a.log.With("component", "llm")), nil
}

func (a *app) chatOptions() chat.Options {
	return chat.Options{
		SystemPrompt: a.cfg.LLM.SystemPrompt,
		MaxTokens:    a.cfg.LLM.MaxTokens,
		Temperature:  a.cfg.LLM.Temperature,
	}
}

func (a *app) Close() {
	a.pipeline.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close registry", "error", err)
	}
	if err := a.index.Close(); err != nil {
		a.log.Warn("close vector index", "error", err)
	}
}
