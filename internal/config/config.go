package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	HTTP       HTTPConfig       `yaml:"http"`
	Google     GoogleConfig     `yaml:"google"`
	Redis      RedisConfig      `yaml:"redis"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Session    SessionConfig    `yaml:"session"`
	Search     SearchConfig     `yaml:"search"`
	Journal    JournalConfig    `yaml:"journal"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

type HTTPConfig struct {
	Port        int    `yaml:"port"`
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
	AdminToken  string `yaml:"admin_token"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WhatsAppConfig struct {
	BaseURL       string  `yaml:"base_url"`
	PhoneID       string  `yaml:"phone_id"`
	Token         string  `yaml:"token"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ShopID   string `yaml:"shop_id"`
	Debug    bool   `yaml:"debug"`
}

type SessionConfig struct {
	TTLMinutes      int `yaml:"ttl_minutes"`
	DedupTTLMinutes int `yaml:"dedup_ttl_minutes"`
}

type SearchConfig struct {
	MaxCandidates int `yaml:"max_candidates"`
	HorizonDays   int `yaml:"horizon_days"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	// .env is optional; env vars may come from the environment directly.
	_ = godotenv.Load(".env")

	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = 30
	}
	if cfg.Session.DedupTTLMinutes <= 0 {
		cfg.Session.DedupTTLMinutes = 60
	}

	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Google.SpreadsheetID == "" {
		return fmt.Errorf("google.spreadsheet_id is required")
	}
	if c.Google.CredentialsFile == "" {
		return fmt.Errorf("google.credentials_file is required")
	}
	if c.HTTP.VerifyToken == "" {
		return fmt.Errorf("http.verify_token is required")
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Session.DedupTTLMinutes) * time.Minute
}
