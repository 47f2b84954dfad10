package processor

import (
	"context"
	"fmt"

	"stage-ai-go/internal/types"
)

// StubTranscriber 固定文本的音频转写，真实语音识别接入前使用
type StubTranscriber struct{}

func (StubTranscriber) Transcribe(_ context.Context, ref types.StorageRef) (string, error) {
	return fmt.Sprintf("Transcrição do áudio %s: Candidato demonstrou experiência em vendas e comunicação clara.", refLabel(ref)), nil
}

// StubTranscriptSource 固定文本的面试转写
type StubTranscriptSource struct{}

func (StubTranscriptSource) FetchTranscript(_ context.Context, ref types.StorageRef) (string, error) {
	return fmt.Sprintf("Transcrição %s: Candidato mostrou conhecimento técnico e habilidades interpessoais.", refLabel(ref)), nil
}

func refLabel(ref types.StorageRef) string {
	if ref.Path != "" {
		return ref.Path
	}
	return ref.SignedURL
}
