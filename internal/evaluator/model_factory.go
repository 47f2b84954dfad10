package evaluator

import (
	"net/http"

	"stage-ai-go/internal/types"
	"stage-ai-go/pkg/agent"
	"stage-ai-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
)

const responseSchemaName = "candidate_evaluation"

// FactoryConfig 进程级的模型客户端设置
type FactoryConfig struct {
	APIURL        string
	UseSchemaHint bool
	// Limiter 为空时不限流
	Limiter    *ratelimit.TokenBucket
	HTTPClient *http.Client
}

// NewModelFactory 返回按用户配置创建 OpenAI 兼容客户端的工厂，所有客户端共用一个限流器
func NewModelFactory(fc FactoryConfig) ModelFactory {
	return func(cfg types.AIConfig) (model.ToolCallingChatModel, error) {
		opts := []agent.Option{
			agent.WithAPIURL(fc.APIURL),
			agent.WithModelName(cfg.Model),
			agent.WithTemperature(float32(cfg.Temperature)),
			agent.WithMaxTokens(cfg.MaxTokens),
			agent.WithHTTPClient(fc.HTTPClient),
		}
		if fc.UseSchemaHint {
			opts = append(opts, agent.WithJSONSchema(responseSchemaName, ResponseSchema))
		}

		chat, err := agent.NewOpenAIChatModel(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		if fc.Limiter == nil {
			return chat, nil
		}
		return ratelimit.NewRateLimitedLLMModel(chat, fc.Limiter), nil
	}
}
