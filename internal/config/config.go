// Package config provides configuration loading for ragd.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full ragd configuration tree.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	ObjectStore ObjectStoreConfig `koanf:"objectstore"`
	Inference   InferenceConfig   `koanf:"inference"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Privacy     PrivacyConfig     `koanf:"privacy"`
	Encryption  EncryptionConfig  `koanf:"encryption"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path            string   `koanf:"path"`
	MaxOpenConns    int      `koanf:"max_open_conns"`
	MaxIdleConns    int      `koanf:"max_idle_conns"`
	ConnMaxLifetime Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig holds job queue settings.
type RedisConfig struct {
	Addr        string   `koanf:"addr"`
	Password    Secret   `koanf:"password"`
	DB          int      `koanf:"db"`
	QueueName   string   `koanf:"queue_name"`
	PollTimeout Duration `koanf:"poll_timeout"`
}

// ObjectStoreConfig holds object storage (MinIO) settings.
type ObjectStoreConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// InferenceConfig holds embedding/generation service settings.
type InferenceConfig struct {
	// BaseURL is the inference service base URL (Ollama-compatible API).
	BaseURL string `koanf:"base_url"`
	// EmbedModels is the ordered candidate list for embedding-model
	// resolution. Exactly one is pinned for the process lifetime.
	EmbedModels []string `koanf:"embed_models"`
	// ChatModel is the generation model.
	ChatModel       string   `koanf:"chat_model"`
	EmbedTimeout    Duration `koanf:"embed_timeout"`
	GenerateTimeout Duration `koanf:"generate_timeout"`
}

// VectorStoreConfig holds embedded vector database settings.
type VectorStoreConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers      int `koanf:"workers"`
	BatchSize    int `koanf:"batch_size"`
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
	// PreviewBytes bounds the content preview stored on processed documents.
	PreviewBytes int `koanf:"preview_bytes"`
}

// PrivacyConfig holds redaction and differential-privacy settings.
type PrivacyConfig struct {
	QueryHashSalt Secret `koanf:"query_hash_salt"`
	// NoiseScale is the Laplace scale b applied to similarity scores.
	NoiseScale float64 `koanf:"noise_scale"`
	// SwapProbability is the distractor-injection probability.
	SwapProbability float64 `koanf:"swap_probability"`
	// Entities is an optional list of known names redacted from
	// outgoing text (employers, partner organizations).
	Entities []string `koanf:"entities"`
}

// EncryptionConfig holds envelope-encryption settings.
type EncryptionConfig struct {
	// MasterKey is the hex-encoded 256-bit key-encryption key (KEK).
	MasterKey Secret `koanf:"master_key"`
}

// NewDefaultConfig returns a Config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8001,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path:            "ragd.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			QueueName:   "document_jobs",
			PollTimeout: Duration(10 * time.Second),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Bucket:   "privacy-documents",
		},
		Inference: InferenceConfig{
			BaseURL:         "http://localhost:11434",
			EmbedModels:     []string{"mxbai-embed-large", "nomic-embed-text"},
			ChatModel:       "mistral",
			EmbedTimeout:    Duration(30 * time.Second),
			GenerateTimeout: Duration(180 * time.Second),
		},
		VectorStore: VectorStoreConfig{
			Path: "~/.config/ragd/vectorstore",
		},
		Ingest: IngestConfig{
			Workers:      4,
			BatchSize:    10,
			ChunkSize:    512,
			ChunkOverlap: 50,
			PreviewBytes: 500,
		},
		Privacy: PrivacyConfig{
			NoiseScale:      0.05,
			SwapProbability: 0.2,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Redis.QueueName == "" {
		return fmt.Errorf("%w: redis queue name required", ErrInvalidConfig)
	}
	if c.ObjectStore.Bucket == "" {
		return fmt.Errorf("%w: object store bucket required", ErrInvalidConfig)
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("%w: inference base URL required", ErrInvalidConfig)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("%w: ingest workers must be positive", ErrInvalidConfig)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalidConfig, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Privacy.NoiseScale < 0 {
		return fmt.Errorf("%w: noise scale cannot be negative", ErrInvalidConfig)
	}
	if c.Privacy.SwapProbability < 0 || c.Privacy.SwapProbability > 1 {
		return fmt.Errorf("%w: swap probability must be in [0,1]", ErrInvalidConfig)
	}
	if c.Encryption.MasterKey.IsSet() {
		key, err := hex.DecodeString(c.Encryption.MasterKey.Value())
		if err != nil {
			return fmt.Errorf("%w: master key is not valid hex", ErrInvalidConfig)
		}
		if len(key) != 32 {
			return fmt.Errorf("%w: master key must be 32 bytes, got %d", ErrInvalidConfig, len(key))
		}
	}
	return nil
}
