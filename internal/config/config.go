package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	DeepSeek DeepSeekConfig `yaml:"deepseek"`
	TAAPI    TAAPIConfig    `yaml:"taapi"`
	Trading  TradingConfig  `yaml:"trading"`
	Risk     RiskConfig     `yaml:"risk"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

type DeepSeekConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TAAPIConfig struct {
	APIKey string `yaml:"api_key"`
}

type TradingConfig struct {
	Assets      []string `yaml:"assets"`
	Interval    string   `yaml:"interval"`
	JournalPath string   `yaml:"journal_path"`
	PromptsLog  string   `yaml:"prompts_log"`
}

type RiskConfig struct {
	MaxTotalAllocation   float64 `yaml:"max_total_allocation"`
	MaxSinglePosition    float64 `yaml:"max_single_position"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxLeverage          float64 `yaml:"max_leverage"`
	MinPositionSize      float64 `yaml:"min_position_size"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnv fills secrets from the environment when the YAML left them empty,
// so keys can live in .env instead of the committed config file.
func applyEnv(cfg *Config) {
	if cfg.Binance.APIKey == "" {
		cfg.Binance.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if cfg.Binance.SecretKey == "" {
		cfg.Binance.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	}
	if cfg.DeepSeek.APIKey == "" {
		cfg.DeepSeek.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	if cfg.TAAPI.APIKey == "" {
		cfg.TAAPI.APIKey = os.Getenv("TAAPI_API_KEY")
	}
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
}

func setDefaults(cfg *Config) {
	if cfg.DeepSeek.BaseURL == "" {
		cfg.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.DeepSeek.Model == "" {
		cfg.DeepSeek.Model = "deepseek-chat"
	}
	if cfg.DeepSeek.TimeoutSeconds == 0 {
		cfg.DeepSeek.TimeoutSeconds = 120
	}
	if len(cfg.Trading.Assets) == 0 {
		cfg.Trading.Assets = []string{"BTC", "ETH"}
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "5m"
	}
	if cfg.Trading.JournalPath == "" {
		cfg.Trading.JournalPath = "diary.jsonl"
	}
	if cfg.Trading.PromptsLog == "" {
		cfg.Trading.PromptsLog = "prompts.log"
	}
	if cfg.Risk.MaxTotalAllocation == 0 {
		cfg.Risk.MaxTotalAllocation = 1000.0
	}
	if cfg.Risk.MaxSinglePosition == 0 {
		cfg.Risk.MaxSinglePosition = 500.0
	}
	if cfg.Risk.MaxDailyLoss == 0 {
		cfg.Risk.MaxDailyLoss = 100.0
	}
	if cfg.Risk.MaxLeverage == 0 {
		cfg.Risk.MaxLeverage = 5.0
	}
	if cfg.Risk.MinPositionSize == 0 {
		cfg.Risk.MinPositionSize = 10.0
	}
	if cfg.Risk.MaxConsecutiveLosses == 0 {
		cfg.Risk.MaxConsecutiveLosses = 3
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 3000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Binance.APIKey == "" || c.Binance.SecretKey == "" {
		return fmt.Errorf("binance.api_key and binance.secret_key are required")
	}
	if c.DeepSeek.APIKey == "" {
		return fmt.Errorf("deepseek.api_key is required")
	}
	if c.TAAPI.APIKey == "" {
		return fmt.Errorf("taapi.api_key is required")
	}
	if _, err := time.ParseDuration(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid trading.interval %q: %w", c.Trading.Interval, err)
	}
	if len(c.Trading.Assets) == 0 {
		return fmt.Errorf("trading.assets must list at least one asset")
	}
	if c.Risk.MaxTotalAllocation <= 0 || c.Risk.MaxSinglePosition <= 0 ||
		c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxLeverage <= 0 ||
		c.Risk.MinPositionSize <= 0 || c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("all risk limits must be positive")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

func (c *Config) TradingInterval() time.Duration {
	d, _ := time.ParseDuration(c.Trading.Interval)
	return d
}

func (c *Config) DeepSeekTimeout() time.Duration {
	return time.Duration(c.DeepSeek.TimeoutSeconds) * time.Second
}
