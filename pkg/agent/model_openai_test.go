package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequests struct {
	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
}

func (r *recordedRequests) add(t *testing.T, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.headers = append(r.headers, req.Header.Clone())
}

func completionBody(content string) string {
	resp := map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestNewOpenAIChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel("  ")
	assert.ErrorIs(t, err, ErrEmptyAPIKey)
}

func TestGenerateSendsMessagesAndOptions(t *testing.T) {
	rec := &recordedRequests{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody(`{"score": 8}`))
	}))
	defer server.Close()

	m, err := NewOpenAIChatModel("sk-test",
		WithAPIURL(server.URL),
		WithModelName("gpt-test"),
		WithTemperature(0.3),
		WithMaxTokens(100),
	)
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sistema"),
		schema.UserMessage("prompt"),
	}, model.WithMaxTokens(10))
	require.NoError(t, err)

	assert.Equal(t, schema.Assistant, msg.Role)
	assert.Equal(t, `{"score": 8}`, msg.Content)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, 15, msg.ResponseMeta.Usage.TotalTokens)

	require.Len(t, rec.payloads, 1)
	payload := rec.payloads[0]
	assert.Equal(t, "gpt-test", payload["model"])
	assert.InDelta(t, 0.3, payload["temperature"], 1e-6)
	assert.Equal(t, float64(10), payload["max_tokens"], "调用选项覆盖默认值")
	assert.NotContains(t, payload, "response_format")
	messages := payload["messages"].([]any)
	assert.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "Bearer sk-test", rec.headers[0].Get("Authorization"))
}

func TestGenerateRetriesWithoutSchemaOnRejection(t *testing.T) {
	rec := &recordedRequests{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(t, r)
		rec.mu.Lock()
		n := len(rec.payloads)
		rec.mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Invalid parameter: 'response_format' of type 'json_schema' is not supported with this model."}}`)
			return
		}
		_, _ = io.WriteString(w, completionBody(`{"score": 7}`))
	}))
	defer server.Close()

	m, err := NewOpenAIChatModel("sk-test",
		WithAPIURL(server.URL),
		WithJSONSchema("stage_evaluation", json.RawMessage(`{"type":"object"}`)),
	)
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 7}`, msg.Content)

	require.Len(t, rec.payloads, 2)
	assert.Contains(t, rec.payloads[0], "response_format")
	assert.NotContains(t, rec.payloads[1], "response_format")
}

func TestGenerateDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer server.Close()

	m, err := NewOpenAIChatModel("sk-bad",
		WithAPIURL(server.URL),
		WithJSONSchema("stage_evaluation", json.RawMessage(`{"type":"object"}`)),
	)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer server.Close()

	m, err := NewOpenAIChatModel("sk-test", WithAPIURL(server.URL))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	assert.Error(t, err)
}

func TestIsSchemaRejection(t *testing.T) {
	assert.True(t, IsSchemaRejection(&APIError{StatusCode: 400, Body: "json_schema not supported"}))
	assert.False(t, IsSchemaRejection(&APIError{StatusCode: 400, Body: "max_tokens too large"}))
	assert.False(t, IsSchemaRejection(&APIError{StatusCode: 500, Body: "schema"}))
	assert.False(t, IsSchemaRejection(assert.AnError))
}

func TestStreamWrapsGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionBody("olá"))
	}))
	defer server.Close()

	m, err := NewOpenAIChatModel("sk-test", WithAPIURL(server.URL))
	require.NoError(t, err)

	stream, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("x")})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "olá", msg.Content)
}

func TestWithToolsRejectsTools(t *testing.T) {
	m, err := NewOpenAIChatModel("sk-test")
	require.NoError(t, err)

	_, err = m.WithTools([]*schema.ToolInfo{{Name: "lookup", Desc: "busca"}})
	assert.ErrorIs(t, err, ErrToolsUnsupported)

	same, err := m.WithTools(nil)
	require.NoError(t, err)
	assert.Same(t, m, same)
}
