package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
binance:
  api_key: key
  secret_key: secret
deepseek:
  api_key: sk-test
taapi:
  api_key: taapi-test
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Trading.Assets)
	assert.Equal(t, "5m", cfg.Trading.Interval)
	assert.Equal(t, 5*time.Minute, cfg.TradingInterval())
	assert.Equal(t, "diary.jsonl", cfg.Trading.JournalPath)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.DeepSeek.BaseURL)
	assert.Equal(t, "deepseek-chat", cfg.DeepSeek.Model)
	assert.Equal(t, 120*time.Second, cfg.DeepSeekTimeout())
	assert.Equal(t, 1000.0, cfg.Risk.MaxTotalAllocation)
	assert.Equal(t, 5.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 3000, cfg.Web.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingCredentials(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no binance key", `
deepseek:
  api_key: sk-test
taapi:
  api_key: taapi-test
`},
		{"no deepseek key", `
binance:
  api_key: key
  secret_key: secret
taapi:
  api_key: taapi-test
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFillsSecrets(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_SECRET_KEY", "env-secret")
	t.Setenv("DEEPSEEK_API_KEY", "env-deepseek")
	t.Setenv("TAAPI_API_KEY", "env-taapi")

	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Binance.APIKey)
	assert.Equal(t, "env-deepseek", cfg.DeepSeek.APIKey)
	assert.Equal(t, "env-taapi", cfg.TAAPI.APIKey)
}

func TestLoadRejectsBadInterval(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
trading:
  interval: soon
`))
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
risk:
  max_leverage: -1
`))
	assert.Error(t, err)
}

func TestLoadTelegramRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := Load(writeConfig(t, minimalConfig+`
telegram:
  enabled: true
  chat_id: 42
`))
	assert.Error(t, err)
}
