package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ragchat/internal/domain"
)

// ChunkerConfig configures how documents are split into word windows.
type ChunkerConfig struct {
	Type      string `yaml:"type"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// EmbedderConfig selects the text embedder implementation.
type EmbedderConfig struct {
	Type      string `yaml:"type"`
	Dimension int    `yaml:"dimension"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Collection string `yaml:"collection"`
	UseTLS     bool   `yaml:"use_tls"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Bolt   BoltConfig   `yaml:"bolt"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type OllamaConfig struct {
	URL string `yaml:"url"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMs) * time.Millisecond }
func (r RetryConfig) MaxDelay() time.Duration  { return time.Duration(r.MaxDelayMs) * time.Millisecond }

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider     string       `yaml:"provider"`
	Model        string       `yaml:"model"`
	MaxTokens    int          `yaml:"max_tokens"`
	Temperature  float64      `yaml:"temperature"`
	SystemPrompt string       `yaml:"system_prompt"`
	TimeoutSecs  int          `yaml:"timeout_secs"`
	OpenAI       OpenAIConfig `yaml:"openai"`
	Ollama       OllamaConfig `yaml:"ollama"`
	Retry        RetryConfig  `yaml:"retry"`
}

// DocumentsConfig controls uploads and the document registry.
type DocumentsConfig struct {
	UploadDir         string   `yaml:"upload_dir"`
	DatabasePath      string   `yaml:"database_path"`
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Workers           int      `yaml:"workers"`
}

// SummarizerConfig configures per-document summaries.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

type RetrievalConfig struct {
	TopK          int `yaml:"top_k"`
	WebSocketTopK int `yaml:"websocket_top_k"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Documents   DocumentsConfig   `yaml:"documents"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragchat/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragchat", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	return &AppConfig{
		Chunker:  ChunkerConfig{Type: "word", ChunkSize: 1000, Overlap: 200},
		Embedder: EmbedderConfig{Type: "hash", Dimension: domain.EmbeddingDimension},
		VectorStore: VectorStoreConfig{
			Type: "bolt",
			Bolt: BoltConfig{Path: "data/vectors.db"},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				APIKeyEnv:  "QDRANT_API_KEY",
				Collection: "documents",
			},
		},
		LLM: LLMConfig{
			Provider:     "openai",
			Model:        "llama-3.1-8b-instant",
			MaxTokens:    1024,
			Temperature:  0.7,
			SystemPrompt: "You are a helpful AI assistant with access to a knowledge base. Use the provided context to answer questions accurately. If the context doesn't contain relevant information, say so and provide a general response.",
			TimeoutSecs:  60,
			OpenAI:       OpenAIConfig{BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY"},
			Ollama:       OllamaConfig{URL: "http://localhost:11434"},
			Retry:        RetryConfig{MaxAttempts: 3, BaseDelayMs: 200, MaxDelayMs: 5000},
		},
		Documents: DocumentsConfig{
			UploadDir:         "data/uploads",
			DatabasePath:      "data/ragchat.db",
			MaxFileSize:       10 << 20,
			AllowedExtensions: []string{"pdf", "docx", "txt", "md", "jpg", "jpeg", "png"},
			Workers:           2,
		},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3},
		Retrieval:  RetrievalConfig{TopK: 5, WebSocketTopK: 3},
		Server:     ServerConfig{Addr: ":8000", ShutdownTimeoutSecs: 10},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// applyEnv lets a handful of RAGCHAT_* variables override the file.
func applyEnv(cfg *AppConfig) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set("RAGCHAT_LLM_PROVIDER", &cfg.LLM.Provider)
	set("RAGCHAT_LLM_MODEL", &cfg.LLM.Model)
	set("RAGCHAT_LLM_BASE_URL", &cfg.LLM.OpenAI.BaseURL)
	set("RAGCHAT_VECTOR_STORE", &cfg.VectorStore.Type)
	set("RAGCHAT_SERVER_ADDR", &cfg.Server.Addr)
	set("RAGCHAT_LOG_LEVEL", &cfg.Logging.Level)
}

// Validate reports the first invalid setting as a domain.ConfigurationError.
func (c *AppConfig) Validate() error {
	bad := func(field, format string, args ...any) error {
		return &domain.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case c.Chunker.Type != "word":
		return bad("chunker.type", "unknown chunker %q", c.Chunker.Type)
	case c.Chunker.ChunkSize <= 0:
		return bad("chunker.chunk_size", "must be positive, got %d", c.Chunker.ChunkSize)
	case c.Chunker.Overlap < 0:
		return bad("chunker.overlap", "must not be negative, got %d", c.Chunker.Overlap)
	case c.Chunker.Overlap >= c.Chunker.ChunkSize:
		return bad("chunker.overlap", "%d must be smaller than chunk_size %d", c.Chunker.Overlap, c.Chunker.ChunkSize)
	case c.Embedder.Type != "hash":
		return bad("embedder.type", "unknown embedder %q", c.Embedder.Type)
	case c.Embedder.Dimension != domain.EmbeddingDimension:
		return bad("embedder.dimension", "must be %d, got %d", domain.EmbeddingDimension, c.Embedder.Dimension)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "bolt":
		if c.VectorStore.Bolt.Path == "" {
			return bad("vector_store.bolt.path", "must not be empty")
		}
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" || c.VectorStore.Qdrant.Collection == "" {
			return bad("vector_store.qdrant", "host and collection are required")
		}
	default:
		return bad("vector_store.type", "unknown vector store %q", c.VectorStore.Type)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return bad("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	switch {
	case c.LLM.Model == "":
		return bad("llm.model", "must not be empty")
	case c.LLM.MaxTokens <= 0:
		return bad("llm.max_tokens", "must be positive, got %d", c.LLM.MaxTokens)
	case c.LLM.Temperature < 0 || c.LLM.Temperature > 2:
		return bad("llm.temperature", "must be within [0,2], got %g", c.LLM.Temperature)
	case c.LLM.Retry.MaxAttempts < 1:
		return bad("llm.retry.max_attempts", "must be at least 1, got %d", c.LLM.Retry.MaxAttempts)
	case c.Retrieval.TopK <= 0 || c.Retrieval.WebSocketTopK <= 0:
		return bad("retrieval", "top_k values must be positive")
	}
	for _, ext := range c.Documents.AllowedExtensions {
		if _, err := domain.ParseFileType(ext); err != nil {
			return bad("documents.allowed_extensions", "unsupported extension %q", ext)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return bad("logging.format", "must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// AllowedTypes converts the extension allow-list into file types.
func (c *AppConfig) AllowedTypes() []domain.FileType {
	out := make([]domain.FileType, 0, len(c.Documents.AllowedExtensions))
	for _, ext := range c.Documents.AllowedExtensions {
		if ft, err := domain.ParseFileType(ext); err == nil {
			out = append(out, ft)
		}
	}
	return out
}

// APIKey resolves the provider key from the environment variable named in the config.
func (c LLMConfig) APIKey() string { return os.Getenv(c.OpenAI.APIKeyEnv) }

func (c QdrantConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }
