package ragpg

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures handle construction.
type Config struct {
	// ConnectionString is a libpq-style DSN. Required.
	ConnectionString string `yaml:"connection_string"`
	// Dimension is the fixed embedding width D. Default 2048.
	Dimension int `yaml:"dimension"`
	// TextConfig selects the BM25 index's text search configuration. Default "simple".
	TextConfig string `yaml:"text_config"`
	// MaxConns bounds the connection pool. Default 8.
	MaxConns int32 `yaml:"max_conns"`
	// StatementTimeout is applied to every pooled connection. Default 30s.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// LogLevel is a zerolog level name; empty defers to RAGPG_LOG_LEVEL.
	LogLevel string `yaml:"log_level"`
}

const (
	defaultDimension        = 2048
	defaultTextConfig       = "simple"
	defaultMaxConns   int32 = 8
	defaultStatementTimeout = 30 * time.Second
)

// withDefaults returns a copy of c with zero-valued fields filled in.
func (c Config) withDefaults() Config {
	if c.Dimension == 0 {
		c.Dimension = defaultDimension
	}
	if c.TextConfig == "" {
		c.TextConfig = defaultTextConfig
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = defaultStatementTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.ConnectionString == "" {
		return &ConfigError{Field: "connection_string", Msg: "must not be empty"}
	}
	if c.Dimension <= 0 {
		return &ConfigError{Field: "dimension", Msg: "must be positive"}
	}
	return nil
}

// LoadConfigFile reads a YAML-encoded Config from path. This is optional
// sugar for callers who want file-based bootstrap; NewHandle never reads
// files itself.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Msg: err.Error()}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: "yaml", Msg: err.Error()}
	}
	return &cfg, nil
}
