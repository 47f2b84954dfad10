package processor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"stage-ai-go/internal/config"
	"stage-ai-go/internal/constants"
	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/storage"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/types"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// AIConfigResolver 合并进程默认配置与用户设置。
// 用户密钥以 base64 保存；解码失败时退回默认密钥，RequireUserKey 打开时退回空密钥。
type AIConfigResolver struct {
	defaults       types.AIConfig
	requireUserKey bool
	repo           SettingsRepository
	cache          SettingsCache
}

var _ AIConfigProvider = (*AIConfigResolver)(nil)

// NewAIConfigResolver 创建解析器；repo 为 nil 时只返回默认配置
func NewAIConfigResolver(cfg config.AIConfig, repo SettingsRepository, cache SettingsCache) *AIConfigResolver {
	defaults := types.AIConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if cfg.RequireUserKey {
		defaults.APIKey = ""
	}
	return &AIConfigResolver{
		defaults:       defaults,
		requireUserKey: cfg.RequireUserKey,
		repo:           repo,
		cache:          cache,
	}
}

// Defaults 进程级默认配置（已应用 RequireUserKey）
func (r *AIConfigResolver) Defaults() types.AIConfig {
	return r.defaults
}

// Resolve 返回用户的有效配置。查询失败时仍返回默认配置，同时返回错误供调用方记录。
func (r *AIConfigResolver) Resolve(ctx context.Context, userID string) (types.AIConfig, error) {
	if strings.TrimSpace(userID) == "" {
		userID = constants.DefaultUserID
	}
	if r.repo == nil {
		return r.defaults, nil
	}

	setting, err := r.loadSetting(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.defaults, nil
	}
	if err != nil {
		return r.defaults, fmt.Errorf("加载用户AI设置失败: %w", err)
	}
	return r.merge(ctx, setting), nil
}

func (r *AIConfigResolver) loadSetting(ctx context.Context, userID string) (*models.UserAISetting, error) {
	if r.cache != nil {
		if cached, err := r.cache.GetCachedAISetting(ctx, userID); err == nil {
			return cached, nil
		}
	}

	setting, err := r.repo.GetUserAISetting(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if cacheErr := r.cache.CacheAISetting(ctx, setting); cacheErr != nil {
			logger.Ctx(ctx).Debug().Err(cacheErr).Str("user_id", userID).Msg("缓存用户AI设置失败")
		}
	}
	return setting, nil
}

func (r *AIConfigResolver) merge(ctx context.Context, setting *models.UserAISetting) types.AIConfig {
	cfg := r.defaults
	if m := strings.TrimSpace(setting.Model); m != "" {
		cfg.Model = m
	}
	if setting.Temperature != nil {
		cfg.Temperature = *setting.Temperature
	}
	if setting.MaxTokens != nil {
		cfg.MaxTokens = *setting.MaxTokens
	}
	if err := validate.Struct(cfg); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", setting.UserID).Msg("用户AI设置无效，使用默认模型参数")
		cfg.Model = r.defaults.Model
		cfg.Temperature = r.defaults.Temperature
		cfg.MaxTokens = r.defaults.MaxTokens
	}

	encoded := strings.TrimSpace(setting.OpenAIAPIKey)
	if encoded == "" {
		return cfg
	}
	key, err := decodeAPIKey(encoded)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", setting.UserID).Msg("解码用户API密钥失败")
		return cfg
	}
	cfg.APIKey = key
	return cfg
}

func decodeAPIKey(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", errors.New("chave decodificada vazia")
	}
	return key, nil
}
