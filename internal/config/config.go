package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // postgres, sqlite, memory
		DSN    string `yaml:"url"`
	} `yaml:"database"`

	Chat struct {
		MaxAttachmentBytes  int64 `yaml:"max_attachment_bytes"`
		IndexConcurrency    int   `yaml:"index_concurrency"`
		MarkSeenConcurrency int   `yaml:"mark_seen_concurrency"`
		// ResyncInterval - период страховочного перечитывания подписок (только БД).
		ResyncInterval time.Duration `yaml:"resync_interval"`
		SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	} `yaml:"chat"`

	AMQP struct {
		URL           string        `yaml:"url"`
		Exchange      string        `yaml:"exchange"`
		RetryAttempts int           `yaml:"retry_attempts"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
	} `yaml:"amqp"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

var AppConfig *Config

// LoadConfig читает .env, затем YAML по CONFIG_PATH (config/config.yaml по
// умолчанию) и накладывает переменные окружения. Без файла работает на
// одних переменных окружения.
func LoadConfig() {
	if err := godotenv.Load(); err == nil {
		log.Println("Загружен .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = cfg
}

// Load собирает конфиг из файла (если он есть) и окружения.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config file at %s: %w", path, err)
		}
	case os.IsNotExist(err):
		log.Printf("Файл %s не найден, конфигурация из переменных окружения", path)
	default:
		return nil, fmt.Errorf("open config file at %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
		if cfg.Database.Driver == "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SERVER_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("CHAT_MAX_ATTACHMENT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHAT_MAX_ATTACHMENT_BYTES: %w", err)
		}
		cfg.Chat.MaxAttachmentBytes = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Chat.MaxAttachmentBytes == 0 {
		cfg.Chat.MaxAttachmentBytes = 1 << 20 // 1MB
	}
	if cfg.Chat.ResyncInterval == 0 {
		cfg.Chat.ResyncInterval = 30 * time.Second
	}
	if cfg.Chat.SessionIdleTTL == 0 {
		cfg.Chat.SessionIdleTTL = 30 * time.Minute
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "salon.chat"
	}
	if cfg.AMQP.RetryAttempts == 0 {
		cfg.AMQP.RetryAttempts = 5
	}
	if cfg.AMQP.RetryDelay == 0 {
		cfg.AMQP.RetryDelay = time.Second
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Chat.MaxAttachmentBytes < 0 {
		return fmt.Errorf("chat.max_attachment_bytes must be positive")
	}
	return nil
}

// GetConfig возвращает загруженный конфиг, при первом вызове загружает его.
func GetConfig() *Config {
	if AppConfig == nil {
		LoadConfig()
	}
	return AppConfig
}
