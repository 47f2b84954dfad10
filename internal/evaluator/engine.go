package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/scoring"
	"stage-ai-go/internal/tracing"
	"stage-ai-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSystemPrompt = "Você é um especialista em RH que analisa candidatos de forma objetiva e justa. Sempre responda em formato JSON válido."
	defaultCallTimeout  = 30 * time.Second

	probeMessage = "Teste de conexão. Responda apenas 'OK' se recebeu esta mensagem."
	probeTimeout = 10 * time.Second
)

var (
	// ErrNoCredential 没有可用的 API 密钥
	ErrNoCredential = errors.New("nenhuma chave de API configurada")
	// ErrEmptyResponse 模型返回空内容
	ErrEmptyResponse = errors.New("resposta vazia do modelo")
	// ErrNoModelFactory 未配置模型工厂
	ErrNoModelFactory = errors.New("fábrica de modelo não configurada")
)

// ModelFactory 按用户配置创建聊天模型
type ModelFactory func(cfg types.AIConfig) (model.ToolCallingChatModel, error)

// Input 一次评估的全部输入
type Input struct {
	CandidateText    string
	StageDescription string
	Requirements     []types.Requirement
	PromptTemplate   string // 为空使用默认模板
	Config           types.AIConfig
}

// Outcome 评估结果及其来源
type Outcome struct {
	Result types.EvaluationResult
	Source string // llm 或 heuristic
	// FallbackReason 回退到启发式评分的原因，LLM 结果时为空
	FallbackReason string
}

// Engine 调用语言模型评估候选人；任何失败都回退到启发式评分，从不返回错误
type Engine struct {
	newModel        ModelFactory
	parser          *ResponseParser
	scorer          *scoring.Scorer
	systemPrompt    string
	defaultTemplate string
	timeout         time.Duration
	normalize       bool
	tracer          trace.Tracer
}

// Option 引擎选项
type Option func(*Engine)

// WithSystemPrompt 自定义系统消息
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(prompt) != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithDefaultTemplate 替换内置提示词模板；请求中携带的模板仍然优先
func WithDefaultTemplate(template string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(template) != "" {
			e.defaultTemplate = template
		}
	}
}

// WithCallTimeout 单次模型调用超时
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithNormalizedResults 把 LLM 结果按启发式规则补齐列表并混合分数
func WithNormalizedResults(enabled bool) Option {
	return func(e *Engine) {
		e.normalize = enabled
	}
}

// NewEngine 创建评估引擎
func NewEngine(newModel ModelFactory, opts ...Option) (*Engine, error) {
	parser, err := NewResponseParser()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		newModel:        newModel,
		parser:          parser,
		scorer:          scoring.NewScorer(),
		systemPrompt:    defaultSystemPrompt,
		defaultTemplate: DefaultPromptTemplate,
		timeout:         defaultCallTimeout,
		tracer:          otel.Tracer("stage-ai/evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate 评估候选人。没有凭证时直接使用启发式评分，不发起任何网络请求。
func (e *Engine) Evaluate(ctx context.Context, in Input) (out Outcome) {
	ctx, span := e.tracer.Start(ctx, "evaluator.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("evaluation.requirements", len(in.Requirements)),
		attribute.Int("evaluation.candidate_text_length", len(in.CandidateText)),
		attribute.String("ai.model", in.Config.Model),
	)

	if !in.Config.HasCredential() {
		logger.Ctx(ctx).Info().Msg("未配置 API 密钥，使用启发式评分")
		return e.fallback(span, in, ErrNoCredential.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic durante avaliação: %v", r)
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			logger.Ctx(ctx).Error().Interface("panic", r).Msg("模型评估发生 panic，回退到启发式评分")
			out = e.fallback(span, in, err.Error())
		}
	}()

	result, shape, err := e.callModel(ctx, in)
	if err != nil {
		errType := tracing.ErrorTypeLLM
		if errors.Is(err, context.DeadlineExceeded) {
			errType = tracing.ErrorTypeTimeout
		}
		tracing.RecordError(span, err, errType)
		logger.Ctx(ctx).Warn().Err(err).Msg("模型评估失败，回退到启发式评分")
		return e.fallback(span, in, err.Error())
	}

	if e.normalize {
		score := result.Score
		result = scoring.PrepareStructuredAnalysis(in.CandidateText, in.StageDescription, in.Requirements, scoring.RawAnalysis{
			Strengths:  result.Strengths,
			Weaknesses: result.Weaknesses,
			Matched:    result.MatchedRequirements,
			Missing:    result.MissingRequirements,
			Score:      &score,
		})
	}

	span.SetAttributes(
		attribute.String("evaluation.source", types.ResultSourceLLM),
		attribute.String("evaluation.response_shape", shape),
		attribute.Float64("evaluation.score", result.Score),
	)
	logger.Ctx(ctx).Info().
		Str("shape", shape).
		Float64("score", result.Score).
		Int("strengths", len(result.Strengths)).
		Int("weaknesses", len(result.Weaknesses)).
		Msg("模型评估完成")

	return Outcome{Result: result, Source: types.ResultSourceLLM}
}

func (e *Engine) callModel(ctx context.Context, in Input) (types.EvaluationResult, string, error) {
	if e.newModel == nil {
		return types.EvaluationResult{}, "", ErrNoModelFactory
	}
	chat, err := e.newModel(in.Config)
	if err != nil {
		return types.EvaluationResult{}, "", fmt.Errorf("criar modelo: %w", err)
	}

	template := in.PromptTemplate
	if strings.TrimSpace(template) == "" {
		template = e.defaultTemplate
	}
	prompt := RenderPrompt(template, in.StageDescription, in.Requirements, in.CandidateText)

	messages := []*schema.Message{
		schema.SystemMessage(e.systemPrompt),
		schema.UserMessage(prompt),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.Ctx(ctx).Debug().
		Str("model", in.Config.Model).
		Int("prompt_length", len(prompt)).
		Msg("调用语言模型")

	resp, err := chat.Generate(callCtx, messages,
		model.WithModel(in.Config.Model),
		model.WithTemperature(float32(in.Config.Temperature)),
		model.WithMaxTokens(in.Config.MaxTokens),
	)
	if err != nil {
		return types.EvaluationResult{}, "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return types.EvaluationResult{}, "", ErrEmptyResponse
	}

	logger.Ctx(ctx).Debug().Str("response", tracing.SafeLLMResponse(resp.Content)).Msg("模型响应")

	return e.parser.Parse(resp.Content)
}

func (e *Engine) fallback(span trace.Span, in Input, reason string) Outcome {
	result := e.scorer.Score(in.CandidateText, in.StageDescription, in.Requirements)
	span.SetAttributes(
		attribute.String("evaluation.source", types.ResultSourceHeuristic),
		attribute.String("evaluation.fallback_reason", reason),
		attribute.Float64("evaluation.score", result.Score),
	)
	return Outcome{
		Result:         result,
		Source:         types.ResultSourceHeuristic,
		FallbackReason: reason,
	}
}

// Probe 发送一条最小请求，检查配置能否正常调用模型
func (e *Engine) Probe(ctx context.Context, cfg types.AIConfig) error {
	if !cfg.HasCredential() {
		return ErrNoCredential
	}
	if e.newModel == nil {
		return ErrNoModelFactory
	}
	chat, err := e.newModel(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := chat.Generate(ctx, []*schema.Message{schema.UserMessage(probeMessage)},
		model.WithModel(cfg.Model),
		model.WithTemperature(0),
		model.WithMaxTokens(10),
	)
	if err != nil {
		return err
	}
	if resp == nil {
		return ErrEmptyResponse
	}
	return nil
}
