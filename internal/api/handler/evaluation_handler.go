package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/runstore"
	"stage-ai-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
)

// RunSubmitter 创建后台运行
type RunSubmitter interface {
	SubmitEvaluation(ctx context.Context, req types.EvaluateRequest) (types.Run, error)
	SubmitTranscription(ctx context.Context, req types.TranscribeRequest) (types.Run, error)
}

// RunReader 查询运行状态
type RunReader interface {
	Lookup(ctx context.Context, id string) (types.Run, error)
	Stats() runstore.Stats
}

// ConfigResolver 解析用户的有效 AI 配置
type ConfigResolver interface {
	Resolve(ctx context.Context, userID string) (types.AIConfig, error)
}

// ConfigProber 用最小请求检查模型配置
type ConfigProber interface {
	Probe(ctx context.Context, cfg types.AIConfig) error
}

// SubmitResponse 提交后立即返回的运行快照
type SubmitResponse struct {
	RunID string `json:"run_id"`
	types.Run
}

// TestConfigResponse 配置检查结果
type TestConfigResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

const dependencyCheckTimeout = 2 * time.Second

// DependencyCheck 探测一个外部依赖是否可用
type DependencyCheck func(ctx context.Context) error

type dependency struct {
	name  string
	check DependencyCheck
}

// EvaluationHandler 评估服务的 HTTP 入口
type EvaluationHandler struct {
	runs     RunSubmitter
	reader   RunReader
	configs  ConfigResolver
	prober   ConfigProber
	deps     []dependency
	validate *validator.Validate
	now      func() time.Time
}

// HandlerOption EvaluationHandler 配置项
type HandlerOption func(*EvaluationHandler)

// WithDependency 在 /health 中报告该依赖的状态
func WithDependency(name string, check DependencyCheck) HandlerOption {
	return func(h *EvaluationHandler) {
		h.deps = append(h.deps, dependency{name: name, check: check})
	}
}

// NewEvaluationHandler 创建处理器
func NewEvaluationHandler(runs RunSubmitter, reader RunReader, configs ConfigResolver, prober ConfigProber, opts ...HandlerOption) *EvaluationHandler {
	h := &EvaluationHandler{
		runs:     runs,
		reader:   reader,
		configs:  configs,
		prober:   prober,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvaluate 提交评估，立即返回运行快照
func (h *EvaluationHandler) HandleEvaluate(ctx context.Context, c *app.RequestContext) {
	var req types.EvaluateRequest
	if !h.decode(ctx, c, &req) {
		return
	}

	run, err := h.runs.SubmitEvaluation(ctx, req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("stage_id", req.StageID).Msg("提交评估失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"detail": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, SubmitResponse{RunID: run.ID, Run: run})
}

// HandleTranscribe 提交音频转写
func (h *EvaluationHandler) HandleTranscribe(ctx context.Context, c *app.RequestContext) {
	var req types.TranscribeRequest
	if !h.decode(ctx, c, &req) {
		return
	}

	run, err := h.runs.SubmitTranscription(ctx, req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("application_id", req.ApplicationID).Msg("提交转写失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"detail": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, SubmitResponse{RunID: run.ID, Run: run})
}

// HandleGetRun 查询运行状态
func (h *EvaluationHandler) HandleGetRun(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	run, err := h.reader.Lookup(ctx, id)
	if errors.Is(err, runstore.ErrRunNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"detail": "Run not found"})
		return
	}
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("run_id", id).Msg("查询运行失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"detail": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, run)
}

// HandleHealth 健康检查。依赖不可用只体现在 dependencies 中，持久化是尽力而为的，服务本身仍然可用
func (h *EvaluationHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	stats := h.reader.Stats()
	body := utils.H{
		"status":      "healthy",
		"runs_count":  stats.Total,
		"runs_active": stats.Active,
		"timestamp":   h.now().UTC().Format(time.RFC3339Nano),
	}
	if len(h.deps) > 0 {
		body["dependencies"] = h.checkDependencies(ctx)
	}
	c.JSON(consts.StatusOK, body)
}

func (h *EvaluationHandler) checkDependencies(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
	defer cancel()

	out := make(map[string]string, len(h.deps))
	for _, d := range h.deps {
		if err := d.check(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("dependency", d.name).Msg("依赖健康检查失败")
			out[d.name] = "error: " + err.Error()
			continue
		}
		out[d.name] = "ok"
	}
	return out
}

// HandleTestConfig 检查用户的模型配置能否正常调用
func (h *EvaluationHandler) HandleTestConfig(ctx context.Context, c *app.RequestContext) {
	var req types.TestConfigRequest
	if !h.decode(ctx, c, &req) {
		return
	}

	cfg, err := h.configs.Resolve(ctx, req.UserID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", req.UserID).Msg("加载用户AI配置失败，使用默认配置")
	}
	if err := h.prober.Probe(ctx, cfg); err != nil {
		logger.Ctx(ctx).Info().Err(err).Str("user_id", req.UserID).Str("model", cfg.Model).Msg("AI配置检查未通过")
		c.JSON(consts.StatusOK, TestConfigResponse{Success: false, Message: fmt.Sprintf("Erro: %v", err)})
		return
	}
	c.JSON(consts.StatusOK, TestConfigResponse{Success: true, Message: "Configuração válida", Model: cfg.Model})
}

// decode 解析并校验 JSON 请求体，失败时已写入 400 响应
func (h *EvaluationHandler) decode(ctx context.Context, c *app.RequestContext, dst any) bool {
	body := c.Request.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str("path", string(c.Path())).Msg("请求体不是合法JSON")
		c.JSON(consts.StatusBadRequest, utils.H{"detail": "JSON inválido: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": validationDetail(err)})
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("campo %s inválido (%s)", fe.Namespace(), fe.Tag())
}
