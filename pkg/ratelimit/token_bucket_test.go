package ratelimit

import (
	"context"
	"testing"
	"time"

	"stage-ai-go/pkg/agent"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConsumesCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 2)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimitedModelDelegates(t *testing.T) {
	mock := agent.NewMockChatClient("ok", nil)
	limited := NewRateLimitedLLMModel(mock, NewLimiter(6000))

	msg, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRateLimitedModelDoesNotRetry(t *testing.T) {
	mock := agent.NewMockChatClientSequential([]agent.MockResponse{
		{Error: &agent.APIError{StatusCode: 429, Body: "rate limit"}},
		{Content: "ok"},
	})
	limited := NewRateLimitedLLMModel(mock, NewLimiter(6000))

	_, err := limited.Generate(context.Background(), []*schema.Message{schema.UserMessage("x")})

	var apiErr *agent.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRateLimitedModelSkipsCallWhenContextEnds(t *testing.T) {
	mock := agent.NewMockChatClient("ok", nil)
	limited := NewRateLimitedLLMModel(mock, NewLimiter(6000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.Generate(ctx, []*schema.Message{schema.UserMessage("x")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.CallCount())
}
