package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recall service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig groups the persistent backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the relational+vector store connection.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a Postgres connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the session history backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMConfig contains the embedding/completion provider settings.
type LLMConfig struct {
	Provider            string        `mapstructure:"provider"`
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	ChatModel           string        `mapstructure:"chat_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// IngestConfig tunes the ingestion orchestrator and batch embedder.
type IngestConfig struct {
	UpsertBatchSize int `mapstructure:"upsert_batch_size"`
	EmbedPageSize   int `mapstructure:"embed_page_size"`
	EmbedBatchSize  int `mapstructure:"embed_batch_size"`
	MaxEmbedChars   int `mapstructure:"max_embed_chars"`
}

// RetrievalConfig tunes the hybrid search policy.
type RetrievalConfig struct {
	LexicalLimit        int     `mapstructure:"lexical_limit"`
	FinalK              int     `mapstructure:"final_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	LegacyMatchCount    int     `mapstructure:"legacy_match_count"`
}

// Validate checks the retrieval policy for monotonic consistency.
func (r RetrievalConfig) Validate() error {
	if r.LexicalLimit < r.FinalK {
		return fmt.Errorf("retrieval.lexical_limit (%d) must be >= retrieval.final_k (%d)", r.LexicalLimit, r.FinalK)
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [0,1], got %f", r.SimilarityThreshold)
	}
	return nil
}

// SessionConfig tunes conversation history kept per user.
type SessionConfig struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	TTL          time.Duration `mapstructure:"ttl"`
}

// LoadConfig reads configuration from file and RECALL_* environment variables.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.chat_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dimensions", 1536)
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("ingest.upsert_batch_size", 400)
	viper.SetDefault("ingest.embed_page_size", 1000)
	viper.SetDefault("ingest.embed_batch_size", 64)
	viper.SetDefault("ingest.max_embed_chars", 8000)
	viper.SetDefault("retrieval.lexical_limit", 5000)
	viper.SetDefault("retrieval.final_k", 50)
	viper.SetDefault("retrieval.similarity_threshold", 0.2)
	viper.SetDefault("retrieval.legacy_match_count", 5)
	viper.SetDefault("session.history_limit", 12)
	viper.SetDefault("session.ttl", 24*time.Hour)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RECALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional when everything arrives via env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	return &config
}
