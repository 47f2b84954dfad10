package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 写入 span 的 error.type 属性，用于在追踪后端按来源过滤
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeStorage    ErrorType = "object_storage"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external_system"
	ErrorTypeTimeout    ErrorType = "timeout"
	// ErrorTypeMessaging 运行事件投递失败
	ErrorTypeMessaging ErrorType = "messaging"
)

// RecordError 在 span 上记录错误并置为 Error 状态，extra 为附加属性
func RecordError(span trace.Span, err error, errorType ErrorType, extra ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(extra) > 0 {
		span.SetAttributes(extra...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 记录下游 HTTP 调用失败，按状态码区分客户端或服务端错误
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", httpErrorCategory(statusCode)),
	)
}

func httpErrorCategory(statusCode int) string {
	switch {
	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		return "client_error"
	case statusCode >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// RecordPublishFailure 记录一条 outbox 消息发布失败；exhausted 表示已不再重试
func RecordPublishFailure(span trace.Span, err error, runID string, attempt int, exhausted bool) {
	RecordError(span, err, ErrorTypeMessaging,
		attribute.String("stage_ai.run_id", runID),
		attribute.Int("messaging.attempt", attempt),
		attribute.Bool("messaging.exhausted", exhausted),
	)
}
