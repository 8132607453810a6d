package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avvvet/chatbuddy/internal/config"
	"github.com/avvvet/chatbuddy/internal/llm"
	"github.com/avvvet/chatbuddy/internal/memory"
)

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// memoryStack owns the database and the record store behind a memory.Manager.
type memoryStack struct {
	manager *memory.Manager
	db      *sql.DB
}

func (m *memoryStack) Close() error {
	return errors.Join(m.manager.Close(), m.db.Close())
}

func openMemory(cfg *config.Config, logger *slog.Logger) (*memoryStack, error) {
	db, err := memory.OpenDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	var store memory.RecordStore
	switch cfg.Memory.Backend {
	case "sqlite":
		store = memory.NewSQLRecordStore(db, logger)
	default:
		redisStore, err := memory.NewRedisStore(cfg.Redis.URL, cfg.Conversation.Timeout, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		store = redisStore
	}

	shortTerm, err := memory.NewShortTermStore(store, memory.ShortTermOptions{
		MaxMessages: cfg.Conversation.MaxMessages,
		Timeout:     cfg.Conversation.Timeout,
		CacheSize:   cfg.Conversation.CacheSize,
	}, logger)
	if err != nil {
		store.Close()
		db.Close()
		return nil, err
	}

	var semantic *memory.SemanticIndex
	if cfg.Memory.SemanticEnabled {
		embedder, err := buildEmbedder(cfg, logger)
		if err != nil {
			shortTerm.Close()
			db.Close()
			return nil, err
		}
		if embedder != nil {
			semantic = memory.NewSemanticIndex(db, embedder, cfg.Embedding.Timeout, logger)
		}
	}

	manager := memory.NewManager(shortTerm, memory.NewEventLog(db), semantic, memory.ManagerOptions{
		SemanticEnabled: cfg.Memory.SemanticEnabled,
		SearchResults:   cfg.Memory.SearchResults,
		DistanceCutoff:  cfg.Memory.DistanceCutoff,
	}, logger)

	return &memoryStack{manager: manager, db: db}, nil
}

// buildEmbedder returns nil when semantic recall has no credentials.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) (memory.Embedder, error) {
	if cfg.LLM.Provider == "mock" {
		return &llm.MockEmbedder{}, nil
	}
	if cfg.Embedding.APIKey == "" {
		logger.Warn("semantic memory disabled: no embedding API key")
		return nil, nil
	}
	embedder, err := llm.NewOpenAICompatibleEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// buildProvider returns the configured model wrapped in the retry policy.
func buildProvider(cfg *config.Config, logger *slog.Logger) (llm.LLMProvider, error) {
	var inner llm.LLMProvider
	if cfg.LLM.Provider == "mock" {
		inner = llm.NewMockProvider()
	} else {
		p, err := llm.NewOpenAICompatibleProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", cfg.LLM.Provider, err)
		}
		inner = p
	}
	return llm.NewRetryingProvider(inner, cfg.LLM.RetryDelays, len(cfg.LLM.RetryDelays), logger), nil
}
