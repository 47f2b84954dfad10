package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stage-ai-go/internal/config"
	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/tracing"
	"stage-ai-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBodyLength = 512

var objectTracer = otel.Tracer("stage-ai/storage/object")

// HTTPObjectStore 通过存储服务的 REST 接口下载对象
// （GET {url}/object/{bucket}/{key}，服务密钥同时放在 Authorization 与 apikey 头）
type HTTPObjectStore struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

var _ ObjectFetcher = (*HTTPObjectStore)(nil)

// NewHTTPObjectStore 创建 HTTP 对象存储客户端。端点或密钥为空时仍返回实例，但所有下载都会失败。
func NewHTTPObjectStore(cfg config.StorageConfig) *HTTPObjectStore {
	return &HTTPObjectStore{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		serviceKey: strings.TrimSpace(cfg.ServiceRoleKey),
		client:     &http.Client{Timeout: config.GetDuration(cfg.DownloadTimeout, 60*time.Second)},
	}
}

// Configured 端点和密钥是否齐全
func (s *HTTPObjectStore) Configured() bool {
	return s.baseURL != "" && s.serviceKey != ""
}

// Download 下载对象。签名 URL 直接请求；否则解析 bucket/key 后带服务密钥请求。
func (s *HTTPObjectStore) Download(ctx context.Context, ref types.StorageRef) (io.ReadCloser, string, error) {
	ctx, span := objectTracer.Start(ctx, "HTTPObjectStore.Download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if !s.Configured() {
		tracing.RecordError(span, ErrStorageNotConfigured, tracing.ErrorTypeStorage)
		return nil, "", ErrStorageNotConfigured
	}

	var (
		target string
		signed bool
	)
	if ref.SignedURL != "" {
		target = ref.SignedURL
		signed = true
	} else {
		loc, err := ResolveObject(ref)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return nil, "", err
		}
		target = fmt.Sprintf("%s/object/%s/%s", s.baseURL, url.PathEscape(loc.Bucket), escapeKey(loc.Key))
		span.SetAttributes(attribute.String("storage.bucket", loc.Bucket))
	}
	span.SetAttributes(
		attribute.Bool("storage.signed_url", signed),
		attribute.String("storage.object", tracing.TruncateString(objectName(ref), tracing.DefaultMaxLength)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidObjectRef, err)
	}
	if !signed {
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("apikey", s.serviceKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return nil, "", fmt.Errorf("falha ao baixar arquivo: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		err := fmt.Errorf("download retornou %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return nil, "", err
	}

	logger.Ctx(ctx).Debug().
		Bool("signed", signed).
		Int64("content_length", resp.ContentLength).
		Msg("对象下载成功")
	return resp.Body, objectName(ref), nil
}

// escapeKey 逐段转义对象路径，保留 "/"
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
