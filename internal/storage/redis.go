package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"stage-ai-go/internal/config"
	"stage-ai-go/internal/constants"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/types"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("stage-ai/storage/redis")

// Redis操作前缀采样率配置
var redisKeySamplingRates = map[string]float64{
	constants.AppPrefix + ":" + constants.RunModulePrefix + ":":  0.25, // 运行快照采样25%
	constants.AppPrefix + ":" + constants.UserModulePrefix + ":": 0.1,  // 用户配置采样10%
}

var (
	rnd      = rand.New(rand.NewSource(time.Now().UnixNano()))
	rndMutex sync.Mutex
)

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return randFloat() < rate
		}
	}
	// 默认采样率5%
	return randFloat() < 0.05
}

func randFloat() float64 {
	rndMutex.Lock()
	defer rndMutex.Unlock()
	return rnd.Float64()
}

// Redis 运行快照镜像与用户配置缓存
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis连接并注册OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries: cfg.MaxRetries,
	})

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查 Redis 连接，供 /health 使用
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("Redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// RunSnapshotTTL 运行快照保留时间
func (r *Redis) RunSnapshotTTL() time.Duration {
	if r.config == nil {
		return constants.RunSnapshotTTL
	}
	return config.GetDuration(r.config.RunSnapshotTTL, constants.RunSnapshotTTL)
}

// Get 获取键的值；键不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Get", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "GET"),
			attribute.String("db.redis.key", key),
			// 避免与redisotel hook产生的span重复
			attribute.Bool("otel.propagate_to_child", false),
		)
	}

	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			if span != nil {
				span.SetStatus(codes.Ok, "key not found")
				span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
			}
			return "", ErrNotFound
		}
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return "", err
	}

	if span != nil {
		span.SetAttributes(
			attribute.Bool("db.redis.key_exists", true),
			attribute.Int("db.redis.value_length", len(val)),
		)
		span.SetStatus(codes.Ok, "")
	}
	return val, nil
}

// Set 设置键的值
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = redisTracer.Start(ctx, "Redis.Set", trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		span.SetAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", "SET"),
			attribute.String("db.redis.key", key),
			attribute.Int("db.redis.value_length", len(value)),
			attribute.Bool("otel.propagate_to_child", false),
		)
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	err := r.Client.Set(ctx, key, value, expiration).Err()
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// SaveRunSnapshot 保存运行快照，供其他实例或重启后查询
func (r *Redis) SaveRunSnapshot(ctx context.Context, run types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("序列化运行快照失败: %w", err)
	}
	return r.Set(ctx, fmt.Sprintf(constants.KeyRunSnapshot, run.ID), string(data), r.RunSnapshotTTL())
}

// LoadRunSnapshot 读取运行快照，不存在时返回 ErrNotFound
func (r *Redis) LoadRunSnapshot(ctx context.Context, id string) (types.Run, error) {
	val, err := r.Get(ctx, fmt.Sprintf(constants.KeyRunSnapshot, id))
	if err != nil {
		return types.Run{}, err
	}
	var run types.Run
	if err := json.Unmarshal([]byte(val), &run); err != nil {
		return types.Run{}, fmt.Errorf("解析运行快照失败: %w", err)
	}
	return run, nil
}

// GetCachedAISetting 读取缓存的用户AI设置（密钥保持数据库中的编码形式）
func (r *Redis) GetCachedAISetting(ctx context.Context, userID string) (*models.UserAISetting, error) {
	val, err := r.Get(ctx, fmt.Sprintf(constants.KeyUserAIConfig, userID))
	if err != nil {
		return nil, err
	}
	var setting models.UserAISetting
	if err := json.Unmarshal([]byte(val), &setting); err != nil {
		return nil, fmt.Errorf("解析AI设置缓存失败: %w", err)
	}
	return &setting, nil
}

// CacheAISetting 缓存用户AI设置
func (r *Redis) CacheAISetting(ctx context.Context, setting *models.UserAISetting) error {
	data, err := json.Marshal(setting)
	if err != nil {
		return fmt.Errorf("序列化AI设置失败: %w", err)
	}
	return r.Set(ctx, fmt.Sprintf(constants.KeyUserAIConfig, setting.UserID), string(data), constants.UserAIConfigTTL)
}
