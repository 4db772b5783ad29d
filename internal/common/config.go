package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Chat        ChatConfig      `toml:"chat"`
	Agents      AgentsConfig    `toml:"agents"`
	LLM         LLMConfig       `toml:"llm"`
	Search      SearchConfig    `toml:"search"`
	Vector      VectorConfig    `toml:"vector"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	// Jobs selects the job record store backend: "badger" (default) or "redis"
	Jobs    string           `toml:"jobs" validate:"oneof=badger redis"`
	Badger  BadgerConfig     `toml:"badger"`
	Redis   RedisConfig      `toml:"redis"`
	Objects FilesystemConfig `toml:"objects"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RedisConfig is only consulted when storage.jobs = "redis"
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type FilesystemConfig struct {
	Dir string `toml:"dir"` // Root directory for uploaded sources and stage outputs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "250ms" - how often workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message lease before redelivery
	MaxReceive        int    `toml:"max_receive"`        // Receive ceiling before a message is dropped (poison pill guard)
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type PipelineConfig struct {
	Concurrency  int    `toml:"concurrency" validate:"gt=0"` // Workers per stage
	MaxRetries   int    `toml:"max_retries"`                 // Retry ceiling per stage before dead-letter
	StageTimeout string `toml:"stage_timeout"`               // e.g., "2m" - per-stage transformation timeout
	ChunkSize    int    `toml:"chunk_size" validate:"gt=0"`  // Vector chunk size in runes
	ChunkOverlap int    `toml:"chunk_overlap"`               // Vector chunk overlap in runes
}

type ChatConfig struct {
	MaxParallelAgents int     `toml:"max_parallel_agents" validate:"gt=0"` // Concurrent agents per generation
	ScoreThreshold    float64 `toml:"score_threshold"`                     // Minimum router score for agent selection
	GenerationTimeout string  `toml:"generation_timeout"`                  // e.g., "60s" - overall turn timeout
	HistoryLimit      int     `toml:"history_limit"`                       // Max turns replayed on session init
	// Throttle interval for thinking/progress events. Empty disables throttling.
	ProgressThrottle string `toml:"progress_throttle"`
}

// AgentsConfig contains configuration for agent descriptor loading
type AgentsConfig struct {
	DescriptorsDir string `toml:"descriptors_dir"` // Directory containing agent descriptor files (YAML)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderGemini    LLMProvider = "gemini"
	// LLMProviderMock is a deterministic stub used when no API key is configured
	LLMProviderMock LLMProvider = "mock"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	Provider       LLMProvider `toml:"provider"`        // "openai", "anthropic", "gemini" or "mock"
	APIKey         string      `toml:"api_key"`         // Provider API key (falls back to provider env var)
	Model          string      `toml:"model"`           // Chat/extraction model
	EmbeddingModel string      `toml:"embedding_model"` // Embedding model
	BaseURL        string      `toml:"base_url"`        // Override endpoint for OpenAI-compatible services
	Timeout        string      `toml:"timeout"`         // Operation timeout as duration string
	MaxTokens      int         `toml:"max_tokens"`      // Maximum tokens in response
	Temperature    float32     `toml:"temperature"`     // Completion temperature
}

// SearchConfig contains the Typesense search sink configuration
type SearchConfig struct {
	URL        string `toml:"url"`        // Typesense endpoint, e.g. "http://localhost:8108"
	APIKey     string `toml:"api_key"`    // Typesense API key
	Collection string `toml:"collection"` // Collection name for indexed documents
	Timeout    string `toml:"timeout"`    // Request timeout as duration string
}

// VectorConfig contains the vector sink (Qdrant-compatible) configuration
type VectorConfig struct {
	URL        string `toml:"url"`        // Vector store endpoint, e.g. "http://localhost:6333"
	APIKey     string `toml:"api_key"`    // Optional API key
	Collection string `toml:"collection"` // Collection/points namespace
	Dimensions int    `toml:"dimensions"` // Embedding dimensions
	Timeout    string `toml:"timeout"`    // Request timeout as duration string
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// SchedulerConfig controls the background queue sweeper
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for queue sweep + stats publish
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings need to appear in corpus.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Jobs: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Objects: FilesystemConfig{
				Dir: "./data/objects",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "250ms",
			VisibilityTimeout: "5m",
			MaxReceive:        10, // Safety net only - the retry policy lives in the orchestrator
			QueueName:         "corpus",
		},
		Pipeline: PipelineConfig{
			Concurrency:  4,
			MaxRetries:   3,
			StageTimeout: "2m",
			ChunkSize:    1200,
			ChunkOverlap: 200,
		},
		Chat: ChatConfig{
			MaxParallelAgents: 2,
			ScoreThreshold:    1.0,
			GenerationTimeout: "60s",
			HistoryLimit:      50,
			ProgressThrottle:  "250ms",
		},
		Agents: AgentsConfig{
			DescriptorsDir: "./agents",
		},
		LLM: LLMConfig{
			Provider:       LLMProviderMock, // Deterministic stub until a key is configured
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        "2m",
			MaxTokens:      4096,
			Temperature:    0.7,
		},
		Search: SearchConfig{
			URL:        "http://localhost:8108",
			Collection: "corpus_documents",
			Timeout:    "10s",
		},
		Vector: VectorConfig{
			URL:        "http://localhost:6333",
			Collection: "corpus_chunks",
			Dimensions: 1536,
			Timeout:    "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			SweepSchedule: "0 * * * * *", // Every minute
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CORPUS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CORPUS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CORPUS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if backend := os.Getenv("CORPUS_STORAGE_JOBS"); backend != "" {
		config.Storage.Jobs = backend
	}
	if badgerPath := os.Getenv("CORPUS_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if redisAddr := os.Getenv("CORPUS_REDIS_ADDR"); redisAddr != "" {
		config.Storage.Redis.Addr = redisAddr
	}

	if pollInterval := os.Getenv("CORPUS_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("CORPUS_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("CORPUS_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}

	if concurrency := os.Getenv("CORPUS_PIPELINE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Pipeline.Concurrency = c
		}
	}
	if maxRetries := os.Getenv("CORPUS_PIPELINE_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Pipeline.MaxRetries = mr
		}
	}

	if provider := os.Getenv("CORPUS_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = LLMProvider(provider)
	}
	if key := os.Getenv("CORPUS_LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}

	if level := os.Getenv("CORPUS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CORPUS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Duration parses a duration-valued config field, returning fallback on
// missing or malformed values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ProviderEnvAPIKey returns the conventional environment variable key for the
// given provider, or "" when none is set.
func ProviderEnvAPIKey(provider LLMProvider) string {
	switch provider {
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
