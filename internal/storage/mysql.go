package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stage-ai-go/internal/config"
	"stage-ai-go/internal/storage/models"
	"stage-ai-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("stage-ai/storage/mysql")

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("registro não encontrado")

type spanContextKey struct{}

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	// 为各种操作类型注册回调
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 如果是错误跳过且DisableErrSkip为true，则跳过追踪
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		// 从DB获取上下文
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		// 获取操作表名，如果为空则使用"unknown"
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		// 创建一个新的span
		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		// 获取SQL语句（如果有）
		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, spanContextKey{}, span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		// 从DB上下文中获取span
		span, ok := db.Statement.Context.Value(spanContextKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		// 添加额外的属性
		if db.Statement.RowsAffected > 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		} else {
			span.SetAttributes(attribute.Int64("db.rows_affected", 0))
		}

		// 记录错误（如果有），但正确处理ErrRecordNotFound
		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				// 真正的错误情况
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.SetAttributes(attribute.String("error.message", db.Error.Error()))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		dbSystem:       "mysql",
		disableErrSkip: true, // 默认禁用错误跳过，减少误报错误
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}


// MySQL 保存运行结果、用户模型设置与阶段信息，并承载 outbox 表
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	logger zerolog.Logger
}

// NewMySQL 连接MySQL，注册追踪插件并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig, logger zerolog.Logger) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 2:
		logLevel = gormlogger.Error
	case 3:
		logLevel = gormlogger.Warn
	case 4:
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Silent
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("component", "mysql").Logger(),
	}

	if err := db.Use(NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	m.logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

func (m *MySQL) autoMigrateSchema() error {
	// 迁移时关闭SQL日志打印
	silentLogger := gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.StageAIRun{},
		&models.UserAISetting{},
		&models.Job{},
		&models.JobStage{},
		&models.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回数据库连接
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接，供 /health 使用
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveRunResult 在同一事务中写入（或覆盖）运行结果和对应的 outbox 事件。
// event 为 nil 时只写运行结果。
func (m *MySQL) SaveRunResult(ctx context.Context, run *models.StageAIRun, event *models.OutboxMessage) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("运行记录缺少ID")
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "score", "source", "result", "error_message", "finished_at", "updated_at"}),
		}).Create(run).Error
		if err != nil {
			return fmt.Errorf("保存运行结果失败: %w", err)
		}
		if event == nil {
			return nil
		}
		if event.Status == "" {
			event.Status = models.OutboxStatusPending
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("写入outbox事件失败: %w", err)
		}
		return nil
	})
}

// GetRunResult 读取已持久化的运行结果
func (m *MySQL) GetRunResult(ctx context.Context, runID string) (*models.StageAIRun, error) {
	var run models.StageAIRun
	err := m.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行结果失败: %w", err)
	}
	return &run, nil
}

// LoadFinishedRun 从已持久化的结果还原运行快照，供进程重启后查询
func (m *MySQL) LoadFinishedRun(ctx context.Context, runID string) (types.Run, error) {
	record, err := m.GetRunResult(ctx, runID)
	if err != nil {
		return types.Run{}, err
	}
	return runFromModel(record), nil
}

func runFromModel(record *models.StageAIRun) types.Run {
	run := types.Run{
		ID:         record.RunID,
		Kind:       types.RunKind(record.Kind),
		Status:     types.RunStatus(record.Status),
		Progress:   record.Progress,
		Error:      record.ErrorMessage,
		CreatedAt:  record.CreatedAt,
		FinishedAt: record.FinishedAt,
	}
	if len(record.Result) > 0 {
		run.Result = json.RawMessage(record.Result)
	}
	return run
}

// GetUserAISetting 读取用户的语言模型设置，不存在时返回 ErrNotFound
func (m *MySQL) GetUserAISetting(ctx context.Context, userID string) (*models.UserAISetting, error) {
	var setting models.UserAISetting
	err := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户AI设置失败: %w", err)
	}
	return &setting, nil
}

// GetStage 读取阶段及其岗位描述
func (m *MySQL) GetStage(ctx context.Context, stageID string) (*types.StagePayload, error) {
	var stage models.JobStage
	err := m.db.WithContext(ctx).Preload("Job").Where("id = ?", stageID).First(&stage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询阶段失败: %w", err)
	}
	return stagePayloadFromModel(&stage), nil
}

func stagePayloadFromModel(stage *models.JobStage) *types.StagePayload {
	payload := &types.StagePayload{
		ID:          stage.ID,
		Name:        stage.Name,
		Threshold:   stage.Threshold,
		StageWeight: stage.StageWeight,
		Description: stage.Description,
	}
	if stage.Job != nil {
		payload.JobDescription = stage.Job.Description
	}
	return payload
}
