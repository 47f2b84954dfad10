package outbox

import (
	"errors"
	"testing"
	"time"

	"stage-ai-go/internal/storage/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPublishResultSuccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := &models.OutboxMessage{Status: models.OutboxStatusPending, RetryCount: 2, ErrorMessage: "timeout"}

	applyPublishResult(msg, nil, now)

	assert.Equal(t, models.OutboxStatusSent, msg.Status)
	require.NotNil(t, msg.ProcessedAt)
	assert.Equal(t, now, *msg.ProcessedAt)
	assert.Empty(t, msg.ErrorMessage)
	assert.Equal(t, 2, msg.RetryCount)
}

func TestApplyPublishResultRetriesUntilFailed(t *testing.T) {
	msg := &models.OutboxMessage{Status: models.OutboxStatusPending}
	pubErr := errors.New("channel closed")

	for i := 1; i < maxRetryCount; i++ {
		applyPublishResult(msg, pubErr, time.Now())
		assert.Equal(t, models.OutboxStatusPending, msg.Status)
		assert.Equal(t, i, msg.RetryCount)
	}

	applyPublishResult(msg, pubErr, time.Now())
	assert.Equal(t, models.OutboxStatusFailed, msg.Status)
	assert.Equal(t, "channel closed", msg.ErrorMessage)
	assert.Nil(t, msg.ProcessedAt)
}

func TestRelayOptions(t *testing.T) {
	r := NewMessageRelay(nil, nil, zerolog.Nop(), WithPollingInterval(time.Second), WithBatchSize(50))
	assert.Equal(t, time.Second, r.pollingInterval)
	assert.Equal(t, 50, r.batchSize)

	r = NewMessageRelay(nil, nil, zerolog.Nop(), WithPollingInterval(0), WithBatchSize(-1))
	assert.Equal(t, defaultPollingInterval, r.pollingInterval)
	assert.Equal(t, defaultBatchSize, r.batchSize)
}

func TestRelayStartStop(t *testing.T) {
	r := NewMessageRelay(nil, nil, zerolog.Nop(), WithPollingInterval(time.Hour))
	r.Start()

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay não parou")
	}
}
