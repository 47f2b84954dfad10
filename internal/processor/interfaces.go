package processor

import (
	"context"

	"stage-ai-go/internal/evaluator"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/types"
)

//
// 流水线各步骤的协作者
//

// ResumeExtractor 下载并提取简历文本；失败只产生警告
type ResumeExtractor interface {
	ExtractResume(ctx context.Context, ref types.StorageRef) (string, []string)
}

// CandidateEvaluator 评估引擎，永不返回错误
type CandidateEvaluator interface {
	Evaluate(ctx context.Context, in evaluator.Input) evaluator.Outcome
}

// AudioTranscriber 把面试音频转成文本
type AudioTranscriber interface {
	Transcribe(ctx context.Context, ref types.StorageRef) (string, error)
}

// TranscriptSource 读取已有的面试转写
type TranscriptSource interface {
	FetchTranscript(ctx context.Context, ref types.StorageRef) (string, error)
}

// AIConfigProvider 按用户解析语言模型配置
type AIConfigProvider interface {
	Resolve(ctx context.Context, userID string) (types.AIConfig, error)
}

//
// 存储相关接口
//

// StageRepository 请求未携带阶段信息时按ID查询
type StageRepository interface {
	GetStage(ctx context.Context, stageID string) (*types.StagePayload, error)
}

// ResultSink 持久化运行结果；event 与结果在同一事务写入
type ResultSink interface {
	SaveRunResult(ctx context.Context, run *models.StageAIRun, event *models.OutboxMessage) error
}

// SettingsRepository 用户AI设置来源
type SettingsRepository interface {
	GetUserAISetting(ctx context.Context, userID string) (*models.UserAISetting, error)
}

// SettingsCache 用户AI设置缓存
type SettingsCache interface {
	GetCachedAISetting(ctx context.Context, userID string) (*models.UserAISetting, error)
	CacheAISetting(ctx context.Context, setting *models.UserAISetting) error
}
