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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644), "无法写入临时配置文件")
	return path
}

// TestLoadConfigFromFile 验证 YAML 中的值覆盖默认值
func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
ai:
  model: "gpt-4o"
  temperature: 1.2
  max_tokens: 512
  require_user_key: true
storage:
  backend: "minio"
extraction:
  pdf_engine: "eino"
redis:
  address: "localhost:6379"
`)

	cfg, err := LoadConfigFromFileOnly(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.InDelta(t, 1.2, cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 512, cfg.AI.MaxTokens)
	assert.True(t, cfg.AI.RequireUserKey)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "eino", cfg.Extraction.PDFEngine)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	// 未在文件中出现的字段保持默认值
	assert.Equal(t, DefaultAIAPIURL, cfg.AI.APIURL)
	assert.Equal(t, DefaultSystemPrompt, cfg.Evaluation.SystemPrompt)
	assert.Equal(t, "30s", cfg.AI.Timeout)
}

// TestLoadConfigMissingFileUsesDefaults 配置文件不存在时回退到默认配置
func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_MODEL", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultAIModel, cfg.AI.Model)
	assert.InDelta(t, DefaultTemperature, cfg.AI.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, cfg.AI.MaxTokens)
	assert.Equal(t, "http", cfg.Storage.Backend)
	assert.Equal(t, "paged", cfg.Extraction.PDFEngine)
	assert.Empty(t, cfg.MySQL.Host, "默认不启用MySQL")
}

// TestLoadConfigEnvOverrides 环境变量覆盖文件中的值
func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
ai:
  api_key: "from-file"
  model: "file-model"
`)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL", "env-model")
	t.Setenv("OPENAI_TEMPERATURE", "0.7")
	t.Setenv("OPENAI_MAX_TOKENS", "1000")
	t.Setenv("REQUIRE_USER_OPENAI_KEY", "true")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.AI.APIKey)
	assert.Equal(t, "env-model", cfg.AI.Model)
	assert.InDelta(t, 0.7, cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 1000, cfg.AI.MaxTokens)
	assert.True(t, cfg.AI.RequireUserKey)
	assert.Equal(t, "https://project.supabase.co/storage/v1", cfg.Storage.URL)
	assert.Equal(t, "service-role", cfg.Storage.ServiceRoleKey)

	fileOnly, err := LoadConfigFromFileOnly(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", fileOnly.AI.APIKey, "FileOnly 不应用环境变量")
}

// TestLoadConfigRejectsInvalidTemperature 温度必须在 [0,2]
func TestLoadConfigRejectsInvalidTemperature(t *testing.T) {
	path := writeConfig(t, `
ai:
  temperature: 3.5
`)
	_, err := LoadConfigFromFileOnly(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI配置无效")
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: "ftp"
`)
	_, err := LoadConfigFromFileOnly(path)
	require.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeConfig(t, "ai: [unterminated")
	_, err := LoadConfigFromFileOnly(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析配置文件失败")
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, GetDuration("30s", time.Second))
	assert.Equal(t, time.Second, GetDuration("", time.Second))
	assert.Equal(t, time.Second, GetDuration("not-a-duration", time.Second))
	assert.Equal(t, time.Second, GetDuration("-5s", time.Second))
}

// TestSampleConfig 仓库自带的示例配置必须能通过校验
func TestSampleConfig(t *testing.T) {
	cfg, err := LoadConfigFromFileOnly("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "paged", cfg.Extraction.PDFEngine)
	assert.False(t, cfg.Evaluation.NormalizeLLMResult)
	assert.Equal(t, "stage_ai.events", cfg.RabbitMQ.RunEventsExchange)
	assert.Equal(t, 5*time.Second, GetDuration(cfg.RabbitMQ.RelayInterval, time.Second))
}
