package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stage-ai-go/internal/constants"
	"stage-ai-go/internal/evaluator"
	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/runstore"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/tracing"
	"stage-ai-go/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 流水线检查点
const (
	progressStarted     = 20
	progressResume      = 40
	progressAudio       = 60
	progressTranscript  = 80
	progressEvaluating  = 90
	progressTranscribed = 50

	persistTimeout = 10 * time.Second
)

var orchestratorTracer = otel.Tracer("stage-ai/processor")

// ErrMissingComponent 必需组件未配置
var ErrMissingComponent = errors.New("componente obrigatório não configurado")

// Orchestrator 创建运行并在后台协程中执行评估/转写流水线。
// 提交立即返回运行快照；流水线中的错误或 panic 都会把运行置为 failed。
type Orchestrator struct {
	store *runstore.Store
	comp  Components
	set   Settings
	wg    sync.WaitGroup
}

// NewOrchestrator 创建编排器
func NewOrchestrator(store *runstore.Store, comp *Components, set *Settings, opts ...SettingOpt) (*Orchestrator, error) {
	if store == nil || comp == nil {
		return nil, ErrMissingComponent
	}
	if comp.Extractor == nil || comp.Evaluator == nil || comp.Configs == nil {
		return nil, fmt.Errorf("%w: extractor, evaluator e configs são obrigatórios", ErrMissingComponent)
	}

	o := &Orchestrator{store: store, comp: *comp}
	if set != nil {
		o.set = *set
	} else {
		o.set.Logger = logger.Logger
	}
	for _, opt := range opts {
		opt(&o.set)
	}
	return o, nil
}

// SubmitEvaluation 创建评估运行并在后台执行
func (o *Orchestrator) SubmitEvaluation(ctx context.Context, req types.EvaluateRequest) (types.Run, error) {
	run, err := o.store.Create(types.RunKindEvaluate)
	if err != nil {
		return types.Run{}, err
	}
	o.set.Logger.Info().
		Str("run_id", run.ID).
		Str("stage_id", req.StageID).
		Str("application_id", req.ApplicationID).
		Msg("创建评估运行")

	o.spawn(ctx, run.ID, func(ctx context.Context, log zerolog.Logger) (any, error) {
		return o.evaluate(ctx, run.ID, req, log)
	}, runMeta{kind: types.RunKindEvaluate, applicationID: req.ApplicationID, stageID: req.StageID})
	return run, nil
}

// SubmitTranscription 创建转写运行并在后台执行
func (o *Orchestrator) SubmitTranscription(ctx context.Context, req types.TranscribeRequest) (types.Run, error) {
	run, err := o.store.Create(types.RunKindTranscribe)
	if err != nil {
		return types.Run{}, err
	}
	o.set.Logger.Info().Str("run_id", run.ID).Str("application_id", req.ApplicationID).Msg("创建转写运行")

	o.spawn(ctx, run.ID, func(ctx context.Context, log zerolog.Logger) (any, error) {
		return o.transcribe(ctx, run.ID, req)
	}, runMeta{kind: types.RunKindTranscribe, applicationID: req.ApplicationID})
	return run, nil
}

// Wait 等待所有后台运行结束或 ctx 到期
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type runMeta struct {
	kind          types.RunKind
	applicationID string
	stageID       string
}

type pipelineFunc func(ctx context.Context, log zerolog.Logger) (any, error)

// spawn 在后台执行流水线。请求的 ctx 只用于继承追踪与日志信息，不继承取消。
func (o *Orchestrator) spawn(parent context.Context, runID string, fn pipelineFunc, meta runMeta) {
	ctx := context.WithoutCancel(parent)
	log := o.set.Logger.With().Str("run_id", runID).Str("kind", string(meta.kind)).Logger()
	ctx = log.WithContext(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, span := orchestratorTracer.Start(ctx, "processor.Run."+string(meta.kind),
			trace.WithAttributes(
				attribute.String("run.id", runID),
				attribute.String("run.application_id", meta.applicationID),
				attribute.String("run.stage_id", meta.stageID),
			))
		defer span.End()

		result, err := o.execute(ctx, runID, fn, log)
		if err == nil {
			if err = o.store.Succeed(runID, result); err == nil {
				span.SetStatus(codes.Ok, "")
				log.Info().Msg("运行完成")
				o.persist(ctx, runID, meta, result, nil, log)
				return
			}
			// 结果无法写入注册表时按失败处理
			result = nil
		}

		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		log.Error().Err(err).Msg("运行失败")
		if failErr := o.store.Fail(runID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Msg("更新运行状态失败")
		}
		o.persist(ctx, runID, meta, result, err, log)
	}()
}

// execute 执行流水线并把 panic 转为错误
func (o *Orchestrator) execute(ctx context.Context, runID string, fn pipelineFunc, log zerolog.Logger) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("流水线发生panic")
			result, err = nil, NewPanicError(runID, r)
		}
	}()
	return fn(ctx, log)
}

func (o *Orchestrator) progress(runID string, value int) {
	if err := o.store.SetProgress(runID, value); err != nil {
		logger.Warn().Err(err).Str("run_id", runID).Int("progress", value).Msg("更新进度失败")
	}
}

func (o *Orchestrator) evaluate(ctx context.Context, runID string, req types.EvaluateRequest, log zerolog.Logger) (*types.EvaluationReport, error) {
	o.progress(runID, progressStarted)

	var (
		candidate strings.Builder
		warnings  = []string{}
	)

	if ref := req.ResumeRef(); !ref.IsZero() {
		text, extractWarnings := o.comp.Extractor.ExtractResume(ctx, ref)
		warnings = append(warnings, extractWarnings...)
		if text != "" {
			candidate.WriteString(text)
			candidate.WriteString("\n\n")
		} else {
			log.Warn().Strs("warnings", extractWarnings).Msg("未能从简历中提取文本")
		}
		o.progress(runID, progressResume)
	}

	if ref := req.AudioRef(); !ref.IsZero() && o.comp.Transcriber != nil {
		text, err := o.comp.Transcriber.Transcribe(ctx, ref)
		if err != nil {
			return nil, NewTranscribeError(runID, err.Error())
		}
		candidate.WriteString(text)
		candidate.WriteString("\n\n")
		o.progress(runID, progressAudio)
	}

	if ref := req.TranscriptRef(); !ref.IsZero() && o.comp.Transcripts != nil {
		text, err := o.comp.Transcripts.FetchTranscript(ctx, ref)
		if err != nil {
			return nil, NewTranscribeError(runID, err.Error())
		}
		candidate.WriteString(text)
		candidate.WriteString("\n\n")
		o.progress(runID, progressTranscript)
	}

	aiConfig, err := o.comp.Configs.Resolve(ctx, req.UserID)
	if err != nil {
		log.Warn().Err(NewConfigError(runID, err.Error())).Msg("加载用户AI配置失败，使用默认配置")
	}

	stage := o.resolveStage(ctx, runID, req, log)
	stageDescription := StageDescription(stage)
	requirements := NormalizeRequirements(req.Requirements, stageDescription)

	o.progress(runID, progressEvaluating)
	log.Debug().
		Int("candidate_chars", candidate.Len()).
		Str("candidate_preview", tracing.SafeCandidateText(candidate.String())).
		Int("requirements", len(requirements)).
		Bool("has_credential", aiConfig.HasCredential()).
		Msg("调用评估引擎")

	outcome := o.comp.Evaluator.Evaluate(ctx, evaluator.Input{
		CandidateText:    candidate.String(),
		StageDescription: stageDescription,
		Requirements:     requirements,
		PromptTemplate:   req.PromptTemplate,
		Config:           aiConfig,
	})
	if outcome.FallbackReason != "" {
		log.Info().Str("reason", outcome.FallbackReason).Msg("使用启发式评分")
	}

	return &types.EvaluationReport{
		EvaluationResult:   outcome.Result,
		ExtractionWarnings: warnings,
		StageID:            req.StageID,
		ApplicationID:      req.ApplicationID,
		PromptTemplate:     req.PromptTemplate,
		Stage:              stage,
		Requirements:       requirements,
		Source:             outcome.Source,
	}, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, runID string, req types.TranscribeRequest) (*types.TranscriptResult, error) {
	o.progress(runID, progressTranscribed)
	if o.comp.Transcriber == nil {
		return nil, NewTranscribeError(runID, "transcritor não configurado")
	}
	text, err := o.comp.Transcriber.Transcribe(ctx, types.StorageRef{Path: req.AudioPath, Bucket: req.Bucket, SignedURL: req.SignedURL})
	if err != nil {
		return nil, NewTranscribeError(runID, err.Error())
	}
	return &types.TranscriptResult{Transcript: text}, nil
}

// resolveStage 请求中的阶段优先；否则按ID查询，查询失败时继续（无阶段信息）
func (o *Orchestrator) resolveStage(ctx context.Context, runID string, req types.EvaluateRequest, log zerolog.Logger) *types.StagePayload {
	if req.Stage != nil {
		return req.Stage
	}
	if o.comp.Stages == nil || req.StageID == "" {
		return nil
	}
	stage, err := o.comp.Stages.GetStage(ctx, req.StageID)
	if err != nil {
		log.Warn().Err(NewStageError(runID, err.Error())).Str("stage_id", req.StageID).Msg("查询阶段失败")
		return nil
	}
	return stage
}

// StageDescription 阶段描述：默认文案，阶段名称覆盖默认，阶段描述覆盖名称；岗位描述追加在后
func StageDescription(stage *types.StagePayload) string {
	desc := constants.DefaultStageLabel
	if stage == nil {
		return desc
	}
	if name := strings.TrimSpace(stage.Name); name != "" {
		desc = name
	}
	if d := strings.TrimSpace(stage.Description); d != "" {
		return d
	}
	// 只有缺少阶段描述时才补充岗位描述
	if jd := strings.TrimSpace(stage.JobDescription); jd != "" {
		desc += "\nDescrição da vaga: " + jd
	}
	return desc
}

// NormalizeRequirements 权重为0时按1.0处理；没有要求时由阶段描述生成一条
func NormalizeRequirements(reqs []types.Requirement, stageDescription string) []types.Requirement {
	if len(reqs) == 0 {
		return []types.Requirement{{
			Label:       constants.SyntheticRequirementLabel,
			Description: stageDescription,
			Weight:      1.0,
		}}
	}
	out := make([]types.Requirement, len(reqs))
	for i, r := range reqs {
		if r.Weight == 0 {
			r.Weight = 1.0
		}
		out[i] = r
	}
	return out
}

// persist 尽力而为地保存最终结果与运行结束事件，失败只记录日志
func (o *Orchestrator) persist(ctx context.Context, runID string, meta runMeta, result any, runErr error, log zerolog.Logger) {
	if o.comp.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	record, event, err := o.buildRecord(runID, meta, result, runErr)
	if err == nil {
		err = o.comp.Sink.SaveRunResult(ctx, record, event)
	}
	if err != nil {
		log.Warn().Err(NewPersistError(runID, err.Error())).Msg("保存运行结果到数据库失败")
		return
	}
	log.Debug().Msg("运行结果已保存")
}

func (o *Orchestrator) buildRecord(runID string, meta runMeta, result any, runErr error) (*models.StageAIRun, *models.OutboxMessage, error) {
	snapshot, err := o.store.Get(runID)
	if err != nil {
		return nil, nil, err
	}

	record := &models.StageAIRun{
		RunID:         runID,
		Kind:          string(meta.kind),
		ApplicationID: meta.applicationID,
		StageID:       meta.stageID,
		Status:        string(snapshot.Status),
		Progress:      snapshot.Progress,
		CreatedAt:     snapshot.CreatedAt,
		FinishedAt:    snapshot.FinishedAt,
	}
	event := types.RunFinishedEvent{
		EventID:       uuid.NewString(),
		RunID:         runID,
		ApplicationID: meta.applicationID,
		StageID:       meta.stageID,
		Status:        snapshot.Status,
	}
	if snapshot.FinishedAt != nil {
		event.FinishedAt = *snapshot.FinishedAt
	}

	if runErr != nil {
		record.ErrorMessage = runErr.Error()
	}
	if result != nil {
		record.Result, err = models.MapToJSON(result)
		if err != nil {
			return nil, nil, err
		}
	}
	if report, ok := result.(*types.EvaluationReport); ok {
		score := report.Score
		record.Score = &score
		record.Source = report.Source
		event.Score = score
	}

	if o.set.EventExchange == "" {
		return record, nil, nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, nil, err
	}
	return record, &models.OutboxMessage{
		EventID:          event.EventID,
		AggregateID:      runID,
		EventType:        constants.RunFinishedEventType,
		Payload:          string(payload),
		TargetExchange:   o.set.EventExchange,
		TargetRoutingKey: o.set.EventRoutingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}
