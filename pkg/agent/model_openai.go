package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

const (
	// OpenAI chat completions 接口
	defaultOpenAIAPIURL    = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModelName = "gpt-4o-mini"
)

var (
	// ErrEmptyAPIKey 缺少 API 密钥
	ErrEmptyAPIKey = errors.New("API 密钥不能为空")
	// ErrToolsUnsupported 评估客户端只做纯文本补全
	ErrToolsUnsupported = errors.New("客户端不支持工具调用")
)

// APIError 语言模型接口返回非200状态
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %d: %s", e.StatusCode, e.Body)
}

// IsSchemaRejection 判断错误是否是服务端拒绝了 response_format 参数
func IsSchemaRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(apiErr.Body)
	for _, marker := range []string{"response_format", "json_schema", "schema"} {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// --- OpenAI Compatible Structures ---

// ResponseFormat response_format 参数
type ResponseFormat struct {
	Type       string          `json:"type"` // json_schema 或 json_object
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec 结构化输出的 schema 描述
type JSONSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []openAIChatMessage `json:"messages"`
	Temperature    *float32            `json:"temperature,omitempty"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat     `json:"response_format,omitempty"`
}

type OpenAIMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"` // 拒答时可能为 null
}

type OpenAIChatChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAICompletionResponse struct {
	Id      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
	Usage   *OpenAIUsage       `json:"usage,omitempty"`
}

// OpenAIChatModel 实现 model.ToolCallingChatModel，
// 用于与 OpenAI 兼容的 chat completions 接口交互。不支持工具调用。
type OpenAIChatModel struct {
	apiKey         string
	modelName      string
	apiURL         string
	temperature    *float32
	maxTokens      *int
	responseFormat *ResponseFormat
	httpClient     *http.Client
}

// Option 配置 OpenAIChatModel
type Option func(*OpenAIChatModel)

// WithModelName 指定模型名称
func WithModelName(name string) Option {
	return func(m *OpenAIChatModel) {
		if strings.TrimSpace(name) != "" {
			m.modelName = name
		}
	}
}

// WithAPIURL 指定接口地址
func WithAPIURL(url string) Option {
	return func(m *OpenAIChatModel) {
		if strings.TrimSpace(url) != "" {
			m.apiURL = url
		}
	}
}

func WithTemperature(t float32) Option {
	return func(m *OpenAIChatModel) {
		m.temperature = &t
	}
}

func WithMaxTokens(n int) Option {
	return func(m *OpenAIChatModel) {
		if n > 0 {
			m.maxTokens = &n
		}
	}
}

// WithHTTPClient 替换 HTTP 客户端（超时由调用方的 context 控制）
func WithHTTPClient(client *http.Client) Option {
	return func(m *OpenAIChatModel) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithJSONSchema 在请求中携带 response_format，要求模型按 schema 输出。
// 服务端以 400 拒绝该参数时，会去掉它重试一次。
func WithJSONSchema(name string, jsonSchema json.RawMessage) Option {
	return func(m *OpenAIChatModel) {
		m.responseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchemaSpec{
				Name:   name,
				Schema: jsonSchema,
			},
		}
	}
}

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例。
func NewOpenAIChatModel(apiKey string, opts ...Option) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrEmptyAPIKey
	}

	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  defaultOpenAIModelName,
		apiURL:     defaultOpenAIAPIURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(m)
	}

	log.Debug().Str("api_url", m.apiURL).Str("model", m.modelName).Msg("创建 OpenAI 兼容 LLM 客户端")
	return m, nil
}

// Generate 实现 model.ChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
		Model:       &m.modelName,
	}, options...)

	reqPayload := OpenAIChatCompletionRequest{
		Model:          m.modelName,
		Messages:       toOpenAIMessages(messages),
		Temperature:    common.Temperature,
		MaxTokens:      common.MaxTokens,
		ResponseFormat: m.responseFormat,
	}
	if common.Model != nil && *common.Model != "" {
		reqPayload.Model = *common.Model
	}

	resp, err := m.doRequest(ctx, reqPayload)
	if err != nil && reqPayload.ResponseFormat != nil && IsSchemaRejection(err) {
		log.Warn().Err(err).Str("model", reqPayload.Model).Msg("服务端拒绝 response_format，去掉 schema 后重试一次")
		reqPayload.ResponseFormat = nil
		resp, err = m.doRequest(ctx, reqPayload)
	}
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	apiMessage := resp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: content,
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}
	if resp.Usage != nil {
		result.ResponseMeta = &schema.ResponseMeta{
			FinishReason: resp.Choices[0].FinishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
	}

	return result, nil
}

func (m *OpenAIChatModel) doRequest(ctx context.Context, payload OpenAIChatCompletionRequest) (*OpenAICompletionResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("api_url", m.apiURL).
		Str("model", payload.Model).
		Int("messages", len(payload.Messages)).
		Bool("schema_hint", payload.ResponseFormat != nil).
		Msg("发送 LLM 请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Body: string(bodyBytes)}
	}

	var openAIResp OpenAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &openAIResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	return &openAIResp, nil
}

func toOpenAIMessages(messages []*schema.Message) []openAIChatMessage {
	out := make([]openAIChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		out = append(out, openAIChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// Stream 实现 model.ChatModel 接口。评估只需要一次性结果，这里把 Generate 的结果包装成单元素流。
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, options...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 仅为满足 model.ToolCallingChatModel；传入工具时报错
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) > 0 {
		return nil, ErrToolsUnsupported
	}
	return m, nil
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)
