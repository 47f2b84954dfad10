package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"stage-ai-go/internal/api/handler"
	"stage-ai-go/internal/api/router"
	"stage-ai-go/internal/evaluator"
	"stage-ai-go/internal/parser"
	"stage-ai-go/internal/processor"
	"stage-ai-go/internal/runstore"
	"stage-ai-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFetcher map[string]string

func (m memFetcher) Download(_ context.Context, ref types.StorageRef) (io.ReadCloser, string, error) {
	content, ok := m[ref.Path]
	if !ok {
		return nil, "", errors.New("objeto não encontrado")
	}
	return io.NopCloser(strings.NewReader(content)), ref.Path, nil
}

type staticConfigs struct {
	cfg types.AIConfig
}

func (s staticConfigs) Resolve(context.Context, string) (types.AIConfig, error) {
	return s.cfg, nil
}

type fakeProber struct {
	err error
	got types.AIConfig
}

func (f *fakeProber) Probe(_ context.Context, cfg types.AIConfig) error {
	f.got = cfg
	return f.err
}

type testServer struct {
	h            *server.Hertz
	orchestrator *processor.Orchestrator
	prober       *fakeProber
}

func newTestServer(t *testing.T, aiCfg types.AIConfig) *testServer {
	t.Helper()

	store := runstore.New()
	engine, err := evaluator.NewEngine(nil)
	require.NoError(t, err)
	configs := staticConfigs{cfg: aiCfg}

	files := memFetcher{"resumes/cv.txt": "5 anos de experiência em vendas, fluente em inglês, MBA em Administração"}
	orch, err := processor.NewOrchestrator(store, &processor.Components{
		Extractor:   parser.NewTextExtractor(files, parser.WithTempDir(t.TempDir())),
		Evaluator:   engine,
		Configs:     configs,
		Transcriber: processor.StubTranscriber{},
	}, nil)
	require.NoError(t, err)

	prober := &fakeProber{}
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, handler.NewEvaluationHandler(orch, store, configs, prober))
	return &testServer{h: h, orchestrator: orch, prober: prober}
}

func (s *testServer) do(method, url string, body any) *ut.ResponseRecorder {
	var reqBody *ut.Body
	if body != nil {
		var raw []byte
		switch b := body.(type) {
		case string:
			raw = []byte(b)
		default:
			raw, _ = json.Marshal(b)
		}
		reqBody = &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
	}
	return ut.PerformRequest(s.h.Engine, method, url, reqBody, ut.Header{Key: "Content-Type", Value: "application/json"})
}

func (s *testServer) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.orchestrator.Wait(ctx))
}

func TestEvaluateAndPollRun(t *testing.T) {
	s := newTestServer(t, types.AIConfig{Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 2000})

	resp := s.do(http.MethodPost, "/v1/evaluate", map[string]any{
		"stage_id":       "st-1",
		"application_id": "app-1",
		"resume_path":    "resumes/cv.txt",
		"requirements": []map[string]any{
			{"label": "Experiência em vendas", "weight": 2.0},
			{"label": "Inglês", "weight": 1.0},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var submitted handler.SubmitResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.RunID)
	assert.Equal(t, submitted.RunID, submitted.ID)
	assert.Equal(t, types.RunStatusRunning, submitted.Status)
	assert.Equal(t, 0, submitted.Progress)

	s.wait(t)

	resp = s.do(http.MethodGet, "/v1/runs/"+submitted.RunID, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var run types.Run
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &run))
	assert.Equal(t, types.RunStatusSucceeded, run.Status)
	assert.Equal(t, 100, run.Progress)

	var report types.EvaluationReport
	require.NoError(t, json.Unmarshal(run.Result, &report))
	assert.Greater(t, report.Score, 0.0)
	assert.Len(t, report.MatchedRequirements, 3)
	assert.Len(t, report.Strengths, 4)
	assert.Len(t, report.Weaknesses, 3)
}

func TestGetUnknownRun(t *testing.T) {
	s := newTestServer(t, types.AIConfig{Model: "gpt-4o-mini", MaxTokens: 100})

	resp := s.do(http.MethodGet, "/v1/runs/nao-existe", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.JSONEq(t, `{"detail":"Run not found"}`, resp.Body.String())
}

func TestEvaluateRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t, types.AIConfig{Model: "gpt-4o-mini", MaxTokens: 100})

	cases := []struct {
		name string
		body any
	}{
		{"json inválido", `{"stage_id":`},
		{"sem application_id", map[string]any{"stage_id": "st-1"}},
		{"peso negativo", map[string]any{
			"stage_id":       "st-1",
			"application_id": "app-1",
			"requirements":   []map[string]any{{"label": "A", "weight": -1}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.do(http.MethodPost, "/v1/evaluate", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestTranscribeRun(t *testing.T) {
	s := newTestServer(t, types.AIConfig{Model: "gpt-4o-mini", MaxTokens: 100})

	resp := s.do(http.MethodPost, "/v1/transcribe", map[string]any{"application_id": "app-1", "audio_path": "audios/x.mp3"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var submitted handler.SubmitResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &submitted))
	assert.Equal(t, types.RunKindTranscribe, submitted.Kind)
	s.wait(t)

	resp = s.do(http.MethodGet, "/v1/runs/"+submitted.RunID, nil)
	var run types.Run
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &run))
	assert.Equal(t, types.RunStatusSucceeded, run.Status)
	assert.Contains(t, string(run.Result), "audios/x.mp3")

	resp = s.do(http.MethodPost, "/v1/transcribe", map[string]any{"application_id": "app-1"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, types.AIConfig{Model: "gpt-4o-mini", MaxTokens: 100})

	resp := s.do(http.MethodPost, "/v1/evaluate", map[string]any{"stage_id": "st-1", "application_id": "app-1"})
	require.Equal(t, http.StatusOK, resp.Code)
	s.wait(t)

	resp = s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["runs_count"])
	assert.EqualValues(t, 0, body["runs_active"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestTestConfig(t *testing.T) {
	s := newTestServer(t, types.AIConfig{APIKey: "sk-test", Model: "gpt-4o", MaxTokens: 100})

	resp := s.do(http.MethodPost, "/v1/test-config", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success":true,"message":"Configuração válida","model":"gpt-4o"}`, resp.Body.String())
	assert.Equal(t, "sk-test", s.prober.got.APIKey)

	s.prober.err = evaluator.ErrNoCredential
	resp = s.do(http.MethodPost, "/v1/test-config", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, resp.Code)

	var body handler.TestConfigResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "Erro: "+evaluator.ErrNoCredential.Error(), body.Message)
	assert.Empty(t, body.Model)
}

func TestHealthReportsDependencies(t *testing.T) {
	store := runstore.New()
	engine, err := evaluator.NewEngine(nil)
	require.NoError(t, err)
	configs := staticConfigs{cfg: types.AIConfig{Model: "gpt-4o-mini", MaxTokens: 100}}
	orch, err := processor.NewOrchestrator(store, &processor.Components{
		Extractor: parser.NewTextExtractor(memFetcher{}, parser.WithTempDir(t.TempDir())),
		Evaluator: engine,
		Configs:   configs,
	}, nil)
	require.NoError(t, err)

	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, handler.NewEvaluationHandler(orch, store, configs, &fakeProber{},
		handler.WithDependency("redis", func(context.Context) error { return nil }),
		handler.WithDependency("mysql", func(context.Context) error { return errors.New("connection refused") }),
	))

	resp := ut.PerformRequest(h.Engine, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, map[string]string{"redis": "ok", "mysql": "error: connection refused"}, body.Dependencies)
}
