package ratelimit

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedLLMModel 对LLM模型的调用进行限流的代理。每次调用只发一次请求，失败直接返回
type RateLimitedLLMModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedLLMModel 用共享的限流器包装模型；多个用户的模型实例共用同一个桶
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, limiter *TokenBucket) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{
		original:    original,
		rateLimiter: limiter,
	}
}

// NewLimiter 按配置创建限流器
func NewLimiter(qpm int) *TokenBucket {
	if qpm <= 0 {
		qpm = 60
	}
	return NewTokenBucket(qpm, qpm/2)
}

// Generate 取到令牌后调用一次；ctx 在排队期间结束时不发请求
func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Generate(ctx, messages, options...)
}

// Stream 代理Stream方法
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Stream(ctx, messages, options...)
}

// WithTools 代理WithTools方法，保留原有的限流器
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{
		original:    newModel,
		rateLimiter: rl.rateLimiter,
	}, nil
}

var _ model.ToolCallingChatModel = (*RateLimitedLLMModel)(nil)
