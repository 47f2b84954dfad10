package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"stage-ai-go/internal/config"
	"stage-ai-go/internal/tracing"
	"stage-ai-go/internal/types"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinIO 以 S3 兼容接口读取简历等文件
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	logger zerolog.Logger
}

var _ ObjectFetcher = (*MinIO)(nil)

// NewMinIO 创建MinIO客户端；配置了默认存储桶时检查其存在
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrStorageNotConfigured
	}
	logger = logger.With().Str("component", "minio").Logger()
	logger.Debug().Str("endpoint", cfg.Endpoint).Str("default_bucket", cfg.DefaultBucket).Msg("初始化MinIO客户端")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{client: client, cfg: cfg, logger: logger}

	if cfg.DefaultBucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exists, err := client.BucketExists(ctx, cfg.DefaultBucket)
		if err != nil {
			return nil, fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", cfg.DefaultBucket, err)
		}
		if !exists {
			return nil, fmt.Errorf("存储桶 %s 不存在", cfg.DefaultBucket)
		}
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Msg("MinIO客户端初始化成功")
	return m, nil
}

// Download 读取对象。路径中没有 bucket 且请求未给出 bucket 时使用默认存储桶。
func (m *MinIO) Download(ctx context.Context, ref types.StorageRef) (io.ReadCloser, string, error) {
	ctx, span := objectTracer.Start(ctx, "MinIO.Download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if ref.Path == "" && ref.SignedURL != "" {
		err := fmt.Errorf("%w: URL assinada não suportada pelo backend MinIO", ErrInvalidObjectRef)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, "", err
	}
	if ref.Bucket == "" && !strings.Contains(strings.Trim(ref.Path, "/"), "/") {
		ref.Bucket = m.cfg.DefaultBucket
	}

	loc, err := ResolveObject(ref)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, "", err
	}
	span.SetAttributes(
		attribute.String("storage.bucket", loc.Bucket),
		attribute.String("storage.object", tracing.TruncateString(loc.Key, tracing.DefaultMaxLength)),
	)

	obj, err := m.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		return nil, "", fmt.Errorf("获取对象 %s 失败: %w", loc, err)
	}

	// GetObject 是惰性的，Stat 才会暴露对象不存在或无权限
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			err = fmt.Errorf("%w: %s", ErrObjectNotFound, loc)
		} else {
			err = fmt.Errorf("获取对象 %s 状态失败: %w", loc, err)
		}
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		return nil, "", err
	}

	m.logger.Debug().
		Str("object", loc.String()).
		Int64("size", stat.Size).
		Str("content_type", stat.ContentType).
		Msg("对象下载开始")
	return obj, loc.Key, nil
}
