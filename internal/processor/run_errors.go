package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	ErrStageLookupFailed = errors.New("falha ao carregar etapa")
	ErrConfigFailed      = errors.New("falha ao carregar configuração de IA")
	ErrTranscribeFailed  = errors.New("falha na transcrição")
	ErrPipelinePanic     = errors.New("erro interno no processamento")
	ErrPersistFailed     = errors.New("falha ao salvar resultado")
)

// RunProcessError 包含运行ID和所处阶段的错误
type RunProcessError struct {
	RunID   string
	Op      string
	BaseErr error
	Detail  string
}

func (e *RunProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (op=%s, run=%s): %s", e.BaseErr, e.Op, e.RunID, e.Detail)
	}
	return fmt.Sprintf("%s (op=%s, run=%s)", e.BaseErr, e.Op, e.RunID)
}

func (e *RunProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *RunProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func NewStageError(runID, detail string) error {
	return &RunProcessError{RunID: runID, Op: "stage", BaseErr: ErrStageLookupFailed, Detail: detail}
}

func NewConfigError(runID, detail string) error {
	return &RunProcessError{RunID: runID, Op: "config", BaseErr: ErrConfigFailed, Detail: detail}
}

func NewTranscribeError(runID, detail string) error {
	return &RunProcessError{RunID: runID, Op: "transcribe", BaseErr: ErrTranscribeFailed, Detail: detail}
}

func NewPanicError(runID string, recovered any) error {
	return &RunProcessError{RunID: runID, Op: "pipeline", BaseErr: ErrPipelinePanic, Detail: fmt.Sprint(recovered)}
}

func NewPersistError(runID, detail string) error {
	return &RunProcessError{RunID: runID, Op: "persist", BaseErr: ErrPersistFailed, Detail: detail}
}
