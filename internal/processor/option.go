package processor

import (
	"github.com/rs/zerolog"
)

// Components 流水线依赖的功能组件，便于集中管理和测试替换。
// Extractor、Evaluator、Configs 必填，其余为 nil 时跳过对应步骤。
type Components struct {
	Extractor   ResumeExtractor
	Evaluator   CandidateEvaluator
	Configs     AIConfigProvider
	Transcriber AudioTranscriber
	Transcripts TranscriptSource

	// 存储层依赖
	Stages StageRepository
	Sink   ResultSink
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	// 运行结束事件的目标
	EventExchange   string
	EventRoutingKey string
	Logger          zerolog.Logger
}

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

// WithcompTranscriber 设置音频转写组件
func WithcompTranscriber(t AudioTranscriber) ComponentOpt {
	return func(c *Components) {
		c.Transcriber = t
	}
}

// WithcompTranscripts 设置转写来源组件
func WithcompTranscripts(t TranscriptSource) ComponentOpt {
	return func(c *Components) {
		c.Transcripts = t
	}
}

// WithcompStages 设置阶段查询组件
func WithcompStages(repo StageRepository) ComponentOpt {
	return func(c *Components) {
		c.Stages = repo
	}
}

// WithcompSink 设置结果持久化组件
func WithcompSink(sink ResultSink) ComponentOpt {
	return func(c *Components) {
		c.Sink = sink
	}
}

// WithsetEventTarget 设置运行结束事件的 exchange 与路由键
func WithsetEventTarget(exchange, routingKey string) SettingOpt {
	return func(s *Settings) {
		s.EventExchange = exchange
		s.EventRoutingKey = routingKey
	}
}

// WithsetLogger 设置日志记录器
func WithsetLogger(l zerolog.Logger) SettingOpt {
	return func(s *Settings) {
		s.Logger = l
	}
}
