package types

import (
	"encoding/json"
	"strings"
	"time"
)

// RunKind 运行类型
type RunKind string

const (
	// RunKindEvaluate 候选人评估
	RunKindEvaluate RunKind = "evaluate"
	// RunKindTranscribe 音频转写
	RunKindTranscribe RunKind = "transcribe"
)

// RunStatus 运行生命周期状态。没有 pending，运行创建时即为 running。
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run 是一次运行的只读快照
type Run struct {
	ID         string          `json:"id"`
	Kind       RunKind         `json:"type"`
	Status     RunStatus       `json:"status"`
	Progress   int             `json:"progress"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// StorageRef 存储中文件的引用: 路径 + bucket + 可选签名URL
type StorageRef struct {
	Path      string `json:"path"`
	Bucket    string `json:"bucket,omitempty"`
	SignedURL string `json:"signed_url,omitempty"`
}

// IsZero 路径和签名URL都为空（或只有空白）时视为未提供
func (r StorageRef) IsZero() bool {
	return strings.TrimSpace(r.Path) == "" && strings.TrimSpace(r.SignedURL) == ""
}

// DefaultRequirementWeight 请求未指定权重时使用
const DefaultRequirementWeight = 1.0

// Requirement 单个带权重的评估要求
type Requirement struct {
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight" validate:"gte=0"`
}

// UnmarshalJSON 缺省 weight 为 1.0
func (r *Requirement) UnmarshalJSON(data []byte) error {
	type alias Requirement
	aux := alias{Weight: DefaultRequirementWeight}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Requirement(aux)
	return nil
}

// StagePayload 招聘流程中的一个阶段
type StagePayload struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Threshold      float64 `json:"threshold"`
	StageWeight    float64 `json:"stage_weight"`
	Description    string  `json:"description,omitempty"`
	JobDescription string  `json:"job_description,omitempty"`
}

// EvaluateRequest POST /v1/evaluate 请求体
type EvaluateRequest struct {
	StageID       string `json:"stage_id" validate:"required"`
	ApplicationID string `json:"application_id" validate:"required"`

	ResumePath          string `json:"resume_path,omitempty"`
	ResumeBucket        string `json:"resume_bucket,omitempty"`
	ResumeSignedURL     string `json:"resume_signed_url,omitempty"`
	AudioPath           string `json:"audio_path,omitempty"`
	AudioBucket         string `json:"audio_bucket,omitempty"`
	AudioSignedURL      string `json:"audio_signed_url,omitempty"`
	TranscriptPath      string `json:"transcript_path,omitempty"`
	TranscriptBucket    string `json:"transcript_bucket,omitempty"`
	TranscriptSignedURL string `json:"transcript_signed_url,omitempty"`

	UserID         string        `json:"user_id,omitempty"`
	Stage          *StagePayload `json:"stage,omitempty"`
	Requirements   []Requirement `json:"requirements,omitempty" validate:"dive"`
	PromptTemplate string        `json:"prompt_template,omitempty"`
}

// ResumeRef 简历文件引用
func (r *EvaluateRequest) ResumeRef() StorageRef {
	return StorageRef{Path: r.ResumePath, Bucket: r.ResumeBucket, SignedURL: r.ResumeSignedURL}
}

// AudioRef 音频文件引用
func (r *EvaluateRequest) AudioRef() StorageRef {
	return StorageRef{Path: r.AudioPath, Bucket: r.AudioBucket, SignedURL: r.AudioSignedURL}
}

// TranscriptRef 面试转写文件引用
func (r *EvaluateRequest) TranscriptRef() StorageRef {
	return StorageRef{Path: r.TranscriptPath, Bucket: r.TranscriptBucket, SignedURL: r.TranscriptSignedURL}
}

// TranscribeRequest POST /v1/transcribe 请求体
type TranscribeRequest struct {
	ApplicationID string `json:"application_id" validate:"required"`
	AudioPath     string `json:"audio_path" validate:"required"`
	Bucket        string `json:"bucket,omitempty"`
	SignedURL     string `json:"signed_url,omitempty"`
}

// TestConfigRequest POST /v1/test-config 请求体
type TestConfigRequest struct {
	UserID string `json:"user_id"`
}

// AIConfig 单个用户的语言模型配置
type AIConfig struct {
	APIKey      string  `json:"-"`
	Model       string  `json:"model" validate:"required"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens" validate:"gt=0"`
}

// HasCredential 凭证非空白
func (c AIConfig) HasCredential() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// EvaluationResult 结构化评估结果
type EvaluationResult struct {
	Score               float64  `json:"score"`
	Analysis            string   `json:"analysis"`
	Strengths           []string `json:"strengths"`
	Weaknesses          []string `json:"weaknesses"`
	MatchedRequirements []string `json:"matched_requirements"`
	MissingRequirements []string `json:"missing_requirements"`
}

// EvaluationReport 写入运行结果与数据库的完整报告
type EvaluationReport struct {
	EvaluationResult
	ExtractionWarnings []string      `json:"extraction_warnings"`
	StageID            string        `json:"stage_id"`
	ApplicationID      string        `json:"application_id"`
	PromptTemplate     string        `json:"prompt_template,omitempty"`
	Stage              *StagePayload `json:"stage,omitempty"`
	Requirements       []Requirement `json:"requirements"`
	Source             string        `json:"source"`
}

// 结果来源
const (
	ResultSourceLLM       = "llm"
	ResultSourceHeuristic = "heuristic"
)

// TranscriptResult 转写运行的结果
type TranscriptResult struct {
	Transcript string `json:"transcript"`
}

// RunFinishedEvent 运行结束后发布到消息队列的事件
type RunFinishedEvent struct {
	EventID       string    `json:"event_id"`
	RunID         string    `json:"run_id"`
	ApplicationID string    `json:"application_id"`
	StageID       string    `json:"stage_id"`
	Status        RunStatus `json:"status"`
	Score         float64   `json:"score"`
	FinishedAt    time.Time `json:"finished_at"`
}
