// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port      string `yaml:"port"`
	BindAddr  string `yaml:"bind_addr"`
	DBPath    string `yaml:"db_path"`
	StateSlot string `yaml:"state_slot"`

	APIKey        string `yaml:"-"`
	DialogueModel string `yaml:"dialogue_model"`
	AnalysisModel string `yaml:"analysis_model"`
	AgentAddr     string `yaml:"agent_addr"`

	RevealBulkDelay time.Duration `yaml:"reveal_bulk_delay"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxImportBytes  int64         `yaml:"max_import_bytes"`
	StaticDir       string        `yaml:"static_dir"`

	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:            "8080",
		BindAddr:        "127.0.0.1",
		DBPath:          "./data/mirror.db",
		StateSlot:       "socratic_mirror_state_v2",
		DialogueModel:   "gemini-3-pro-preview",
		AnalysisModel:   "gemini-2.5-flash",
		RevealBulkDelay: 20 * time.Millisecond,
		AllowedOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		MaxImportBytes:  8 << 20,
		ConversationLog: ConversationLogConfig{
			Enabled:   false,
			Dir:       "./data/logs/conversations",
			QueueSize: 1000,
		},
	}
}

// Load reads configuration from an optional YAML file named by CONFIG_FILE,
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.BindAddr = getEnv("BIND_ADDR", cfg.BindAddr)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.StateSlot = getEnv("STATE_SLOT", cfg.StateSlot)
	cfg.APIKey = getEnv("API_KEY", getEnv("GEMINI_API_KEY", ""))
	cfg.DialogueModel = getEnv("DIALOGUE_MODEL", cfg.DialogueModel)
	cfg.AnalysisModel = getEnv("ANALYSIS_MODEL", cfg.AnalysisModel)
	cfg.AgentAddr = getEnv("AGENT_ADDR", cfg.AgentAddr)
	cfg.RevealBulkDelay = getEnvDuration("REVEAL_BULK_DELAY", cfg.RevealBulkDelay)
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.MaxImportBytes = int64(getEnvInt("MAX_IMPORT_BYTES", int(cfg.MaxImportBytes)))
	cfg.StaticDir = getEnv("STATIC_DIR", cfg.StaticDir)
	cfg.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", cfg.ConversationLog.Enabled)
	cfg.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", cfg.ConversationLog.Dir)
	cfg.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", cfg.ConversationLog.QueueSize)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.StateSlot == "" {
		return errors.New("STATE_SLOT cannot be empty")
	}
	if c.RevealBulkDelay < 0 {
		return errors.New("REVEAL_BULK_DELAY must be >= 0")
	}
	if c.MaxImportBytes <= 0 {
		return errors.New("MAX_IMPORT_BYTES must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}

// IsLoopback reports whether the server only listens locally.
func (c *Config) IsLoopback() bool {
	return c.BindAddr == "127.0.0.1" || c.BindAddr == "localhost" || c.BindAddr == "::1"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
