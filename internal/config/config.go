package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"forwarder/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Engine     EngineConfig     `yaml:"engine"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
	Admins     []int64          `yaml:"admins"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	// NotifyBotToken is the admin-facing bot used for failure notices.
	NotifyBotToken string `yaml:"notify_bot_token"`
	// UserbotsFile lists the delegated sending identities (yaml).
	UserbotsFile string `yaml:"userbots_file"`
	Debug        bool   `yaml:"debug"`
}

type EngineConfig struct {
	PollIntervalSec  int     `yaml:"poll_interval_sec"`
	SendTimeoutSec   int     `yaml:"send_timeout_sec"`
	RetryDelaySec    int     `yaml:"retry_delay_sec"`
	MaxRetries       int     `yaml:"max_retries"`
	FailureThreshold int     `yaml:"failure_threshold"`
	SenderRPS        float64 `yaml:"sender_rps"`
	SenderBurst      int     `yaml:"sender_burst"`
}

func (e EngineConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSec) * time.Second
}

func (e EngineConfig) SendTimeout() time.Duration {
	return time.Duration(e.SendTimeoutSec) * time.Second
}

func (e EngineConfig) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelaySec) * time.Second
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Engine.PollIntervalSec < 1 {
		return errors.New("engine poll_interval_sec must be at least 1")
	}
	if c.Engine.SendTimeoutSec <= 0 {
		return errors.New("engine send_timeout_sec must be positive")
	}
	return nil
}

// ValidateUserbots checks the identities loaded from the userbots file.
func ValidateUserbots(userbots []models.Userbot) error {
	seen := make(map[string]bool)
	for _, ub := range userbots {
		if ub.Phone == "" {
			return errors.New("userbot with empty phone")
		}
		if ub.Token == "" {
			return fmt.Errorf("userbot %s has no token", ub.Phone)
		}
		if seen[ub.Phone] {
			return fmt.Errorf("duplicate userbot phone: %s", ub.Phone)
		}
		seen[ub.Phone] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.PollIntervalSec == 0 {
		c.Engine.PollIntervalSec = models.DefaultPollIntervalSeconds
	}
	if c.Engine.SendTimeoutSec == 0 {
		c.Engine.SendTimeoutSec = models.DefaultSendTimeoutSeconds
	}
	if c.Engine.RetryDelaySec == 0 {
		c.Engine.RetryDelaySec = models.DefaultRetryDelaySeconds
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = models.DefaultMaxRetries
	}
	if c.Engine.FailureThreshold == 0 {
		c.Engine.FailureThreshold = models.DefaultFailureThreshold
	}
	if c.Engine.SenderRPS == 0 {
		c.Engine.SenderRPS = models.DefaultSenderRPS
	}
	if c.Engine.SenderBurst == 0 {
		c.Engine.SenderBurst = 1
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Enabled && !c.API.HTTP.Enabled {
		c.API.HTTP.Enabled = true
	}
	// auth enabled by default when API is enabled
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Telegram.UserbotsFile == "" {
		c.Telegram.UserbotsFile = "configs/userbots.yaml"
	}
}
