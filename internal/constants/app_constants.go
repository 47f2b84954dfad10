package constants

const (
	// ServiceName 服务名，用于 tracer 与日志
	ServiceName = "stage-ai-go"

	// DefaultStageLabel 请求未提供任何阶段信息时的描述
	DefaultStageLabel = "Etapa do processo seletivo"
	// SyntheticRequirementLabel 未提供要求时由阶段描述派生的要求名称
	SyntheticRequirementLabel = "Requisitos da Etapa"
	// DefaultUserID 请求未携带 user_id 时用于查询配置
	DefaultUserID = "default"

	// RunFinishedEventType outbox 中运行结束事件的类型
	RunFinishedEventType = "stage_ai_run.finished"
)
