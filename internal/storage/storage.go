package storage

import (
	"context"
	"fmt"
	"strings"

	"stage-ai-go/internal/config"

	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖。
// 除对象存储外都是可选的：未配置或连接失败时字段为 nil。
type Storage struct {
	// 对象存储，按 storage.backend 选择
	Objects ObjectFetcher
	HTTP    *HTTPObjectStore
	MinIO   *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis

	logger zerolog.Logger
}

// NewStorage 创建存储管理器。可选组件初始化失败只记录警告。
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{logger: logger}
	var err error
	var initErrors []string

	switch cfg.Storage.Backend {
	case "minio":
		minioLogger := zerolog.Nop()
		if cfg.Logger.Level == "debug" || cfg.MinIO.EnableTestLogging {
			minioLogger = logger
		}
		storage.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger)
		if err != nil {
			return nil, fmt.Errorf("初始化MinIO失败: %w", err)
		}
		storage.Objects = storage.MinIO
	default:
		storage.HTTP = NewHTTPObjectStore(cfg.Storage)
		if !storage.HTTP.Configured() {
			logger.Warn().Msg("对象存储未配置，文件下载将失败")
		}
		storage.Objects = storage.HTTP
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ, logger)
		if err == nil {
			err = storage.RabbitMQ.EnsureExchange(cfg.RabbitMQ.RunEventsExchange, "topic", true)
		}
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		}
	}

	if cfg.MySQL.Host != "" {
		storage.MySQL, err = NewMySQL(&cfg.MySQL, logger)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	} else {
		logger.Debug().Msg("Redis未配置, 跳过初始化")
	}

	if len(initErrors) > 0 {
		logger.Warn().Str("errors", strings.Join(initErrors, "; ")).Msg("以下存储组件初始化失败")
	}

	return storage, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}
