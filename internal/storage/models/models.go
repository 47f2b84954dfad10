package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StageAIRun 一次评估/转写运行的最终结果
type StageAIRun struct {
	RunID         string         `gorm:"type:char(36);primaryKey"`
	Kind          string         `gorm:"type:varchar(20);not null"`
	ApplicationID string         `gorm:"type:varchar(64);index:idx_stage_ai_runs_application"`
	StageID       string         `gorm:"type:varchar(64);index:idx_stage_ai_runs_stage"`
	Status        string         `gorm:"type:varchar(20);not null;index:idx_stage_ai_runs_status"`
	Progress      int            `gorm:"type:tinyint unsigned;not null;default:0"`
	Score         *float64       `gorm:"type:decimal(4,1)"`
	Source        string         `gorm:"type:varchar(20)"` // llm 或 heuristic
	Result        datatypes.JSON `gorm:"type:json"`
	ErrorMessage  string         `gorm:"type:text"`
	CreatedAt     time.Time      `gorm:"type:datetime(6);not null"`
	FinishedAt    *time.Time     `gorm:"type:datetime(6)"`
	UpdatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (StageAIRun) TableName() string {
	return "stage_ai_runs"
}

// UserAISetting 用户的语言模型设置，密钥以 base64 保存
type UserAISetting struct {
	UserID       string    `gorm:"type:varchar(64);primaryKey"`
	OpenAIAPIKey string    `gorm:"column:openai_api_key;type:text"`
	Model        string    `gorm:"type:varchar(100)"`
	Temperature  *float64  `gorm:"type:decimal(3,2)"`
	MaxTokens    *int      `gorm:"type:int"`
	CreatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (UserAISetting) TableName() string {
	return "ai_settings"
}

// Job 岗位，只关心描述
type Job struct {
	ID          string    `gorm:"type:varchar(64);primaryKey"`
	Title       string    `gorm:"type:varchar(255)"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobStage 招聘流程中的阶段
type JobStage struct {
	ID          string  `gorm:"type:varchar(64);primaryKey"`
	JobID       string  `gorm:"type:varchar(64);index:idx_job_stages_job"`
	Name        string  `gorm:"type:varchar(255)"`
	Threshold   float64 `gorm:"type:decimal(4,1);default:0"`
	StageWeight float64 `gorm:"type:decimal(5,2);default:1"`
	Description string  `gorm:"type:text"`
	Job         *Job    `gorm:"foreignKey:JobID;references:ID"`
}

func (JobStage) TableName() string {
	return "job_stages"
}

// MapToJSON 将任意结构转为 datatypes.JSON
func MapToJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
