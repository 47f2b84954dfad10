package outbox // 发件箱模式：运行结果与事件同事务写入，由 relay 异步投递

import (
	"context"
	"time"

	"stage-ai-go/internal/storage"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/tracing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// MessageRelay 轮询 outbox 表并将运行结束事件发布到 RabbitMQ
type MessageRelay struct {
	db              *gorm.DB
	publisher       storage.MessagePublisher
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	done            chan struct{}
	stopped         chan struct{}
	tracer          trace.Tracer
	now             func() time.Time
}

// Option MessageRelay 配置选项
type Option func(*MessageRelay)

// WithPollingInterval 设置轮询间隔，非正数忽略
func WithPollingInterval(d time.Duration) Option {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 设置每批处理的消息数
func WithBatchSize(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewMessageRelay 创建一个新的 MessageRelay 实例
func NewMessageRelay(db *gorm.DB, publisher storage.MessagePublisher, logger zerolog.Logger, opts ...Option) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger.With().Str("component", "outbox_relay").Logger(),
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
		tracer:          otel.Tracer("stage-ai/outbox"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 在后台开始轮询
func (r *MessageRelay) Start() {
	r.logger.Info().Dur("interval", r.pollingInterval).Msg("MessageRelay 启动")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		defer close(r.stopped)
		for {
			select {
			case <-r.done:
				ticker.Stop()
				r.logger.Info().Msg("MessageRelay 已停止")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("处理待发送消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束
func (r *MessageRelay) Stop() {
	r.logger.Info().Msg("MessageRelay 正在停止")
	close(r.done)
	<-r.stopped
}

// processPendingMessages 取一批待发送消息并逐条发布
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 允许多实例并行轮询
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		r.logger.Error().Err(err).Msg("查询待发送的 outbox 消息失败")
		return err
	}

	// 空轮询不创建 span
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	r.logger.Debug().Int("count", len(messages)).Msg("获取到待发送消息")

	for i := range messages {
		msg := &messages[i]
		pubErr := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if pubErr != nil {
			r.logger.Warn().Err(pubErr).
				Uint64("id", msg.ID).
				Str("run_id", msg.AggregateID).
				Int("retries", msg.RetryCount+1).
				Msg("发布 outbox 消息失败")
		}
		applyPublishResult(msg, pubErr, r.now())
		if pubErr != nil {
			tracing.RecordPublishFailure(span, pubErr, msg.AggregateID, msg.RetryCount, msg.Status == models.OutboxStatusFailed)
		}

		if err := tx.Save(msg).Error; err != nil {
			// 整个事务回滚，消息在下一次轮询中重新处理
			r.logger.Error().Err(err).Uint64("id", msg.ID).Msg("更新 outbox 消息状态失败")
			return err
		}
	}

	return tx.Commit().Error
}

// applyPublishResult 根据发布结果更新消息状态
func applyPublishResult(msg *models.OutboxMessage, pubErr error, now time.Time) {
	if pubErr != nil {
		msg.RetryCount++
		msg.ErrorMessage = pubErr.Error()
		if msg.RetryCount >= maxRetryCount {
			msg.Status = models.OutboxStatusFailed
		}
		return
	}
	msg.Status = models.OutboxStatusSent
	msg.ProcessedAt = &now
	msg.ErrorMessage = ""
}
