package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stage-ai-go/internal/api/handler"
	"stage-ai-go/internal/api/router"
	"stage-ai-go/internal/config"
	"stage-ai-go/internal/evaluator"
	appLogger "stage-ai-go/internal/logger"
	"stage-ai-go/internal/outbox"
	"stage-ai-go/internal/parser"
	"stage-ai-go/internal/processor"
	"stage-ai-go/internal/runstore"
	"stage-ai-go/internal/storage"
	"stage-ai-go/internal/tracing"
	"stage-ai-go/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var version = "1.0.0" //nolint:gochecknoglobals

func main() {
	var (
		configPath string
		envPath    string
	)
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.StringVar(&envPath, "env", ".env", "Path to .env file")
	pflag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load(envPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("加载配置失败")
	}
	initLogger(cfg.Logger)
	log := appLogger.Logger
	log.Info().Str("version", version).Str("config", configPath).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing, version)
	if err != nil {
		log.Warn().Err(err).Msg("初始化追踪失败，继续运行")
	}

	storageManager, err := storage.NewStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	log.Info().Msg("存储服务初始化成功")

	// 运行状态
	var (
		storeOpts   []runstore.Option
		handlerOpts []handler.HandlerOption
	)
	if storageManager.Redis != nil {
		storeOpts = append(storeOpts, runstore.WithMirror(storageManager.Redis))
		handlerOpts = append(handlerOpts, handler.WithDependency("redis", storageManager.Redis.Ping))
	}
	if storageManager.MySQL != nil {
		storeOpts = append(storeOpts, runstore.WithArchive(storageManager.MySQL))
		handlerOpts = append(handlerOpts, handler.WithDependency("mysql", storageManager.MySQL.Ping))
	}
	runStore := runstore.New(storeOpts...)

	// 文本提取
	extractor, err := buildExtractor(ctx, cfg, storageManager)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化文本提取器失败")
	}

	// 评估引擎
	limiter := ratelimit.NewLimiter(cfg.AI.QPM)
	modelFactory := evaluator.NewModelFactory(evaluator.FactoryConfig{
		APIURL:        cfg.AI.APIURL,
		UseSchemaHint: cfg.AI.UseSchemaHint,
		Limiter:       limiter,
	})
	engineOpts := []evaluator.Option{
		evaluator.WithCallTimeout(config.GetDuration(cfg.AI.Timeout, 30*time.Second)),
		evaluator.WithNormalizedResults(cfg.Evaluation.NormalizeLLMResult),
	}
	if cfg.Evaluation.SystemPrompt != "" {
		engineOpts = append(engineOpts, evaluator.WithSystemPrompt(cfg.Evaluation.SystemPrompt))
	}
	if cfg.Evaluation.PromptTemplate != "" {
		engineOpts = append(engineOpts, evaluator.WithDefaultTemplate(cfg.Evaluation.PromptTemplate))
	}
	engine, err := evaluator.NewEngine(modelFactory, engineOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化评估引擎失败")
	}

	// 用户配置与编排
	var (
		settingsRepo  processor.SettingsRepository
		settingsCache processor.SettingsCache
	)
	comp := &processor.Components{
		Extractor:   extractor,
		Evaluator:   engine,
		Transcriber: processor.StubTranscriber{},
		Transcripts: processor.StubTranscriptSource{},
	}
	if storageManager.MySQL != nil {
		settingsRepo = storageManager.MySQL
		comp.Stages = storageManager.MySQL
		comp.Sink = storageManager.MySQL
	}
	if storageManager.Redis != nil {
		settingsCache = storageManager.Redis
	}
	resolver := processor.NewAIConfigResolver(cfg.AI, settingsRepo, settingsCache)
	comp.Configs = resolver

	setOpts := []processor.SettingOpt{processor.WithsetLogger(log.With().Str("component", "orchestrator").Logger())}
	if storageManager.RabbitMQ != nil {
		setOpts = append(setOpts, processor.WithsetEventTarget(cfg.RabbitMQ.RunEventsExchange, cfg.RabbitMQ.FinishedRouting))
	}
	orchestrator, err := processor.NewOrchestrator(runStore, comp, nil, setOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("初始化编排器失败")
	}

	// outbox 投递
	var relay *outbox.MessageRelay
	if storageManager.MySQL != nil && storageManager.RabbitMQ != nil {
		relay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, log,
			outbox.WithPollingInterval(config.GetDuration(cfg.RabbitMQ.RelayInterval, 5*time.Second)))
		relay.Start()
	} else {
		log.Info().Msg("MySQL或RabbitMQ未配置，运行结束事件不会投递")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.Default(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(appLogger.WithContext(c))
		hlog.CtxDebugf(c, "%s %s -> %d (%s)", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
	})

	evaluationHandler := handler.NewEvaluationHandler(orchestrator, runStore, resolver, engine, handlerOpts...)
	router.RegisterRoutes(h, evaluationHandler)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("HTTP 服务器启动中")
		if err := h.Run(); err != nil {
			log.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("接收到终止信号，正在优雅退出...")

	shutdownTimeout := config.GetDuration(cfg.Server.ShutdownTimeout, 5*time.Second)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP服务器关闭失败")
	}
	// 等待进行中的运行写回结果
	if err := orchestrator.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("仍有运行未结束")
	}
	if relay != nil {
		relay.Stop()
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("关闭追踪失败")
	}
	log.Info().Msg("优雅退出完成")
}

func initLogger(cfg config.LoggerConfig) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
	})

	hlog.SetLogger(hertzzerolog.From(appLogger.Logger))
	if appLogger.Logger.GetLevel() <= zerolog.DebugLevel {
		hlog.SetLevel(hlog.LevelDebug)
	} else {
		hlog.SetLevel(hlog.LevelInfo)
	}
}

// buildExtractor 按配置选择 PDF 引擎并按需启用 Tika OCR
func buildExtractor(ctx context.Context, cfg *config.Config, s *storage.Storage) (*parser.TextExtractor, error) {
	opts := []parser.ExtractorOption{parser.WithTempDir(cfg.Extraction.TempDir)}

	var tika *parser.TikaExtractor
	if cfg.Tika.ServerURL != "" {
		tikaOpts := []parser.TikaOption{}
		if cfg.Tika.OCRLanguage != "" {
			tikaOpts = append(tikaOpts, parser.WithOCRLanguage(cfg.Tika.OCRLanguage))
		}
		if cfg.Tika.Timeout > 0 {
			tikaOpts = append(tikaOpts, parser.WithTimeout(time.Duration(cfg.Tika.Timeout)*time.Second))
		}
		tika = parser.NewTikaExtractor(cfg.Tika.ServerURL, tikaOpts...)
	}

	switch cfg.Extraction.PDFEngine {
	case "eino":
		eino, err := parser.NewEinoPDFTextExtractor(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, parser.WithPDFExtractor(eino))
	case "tika":
		if tika == nil {
			appLogger.Warn().Msg("pdf_engine=tika 但未配置 Tika 服务器，使用逐页解析")
			break
		}
		opts = append(opts, parser.WithPDFExtractor(tika))
	}

	if cfg.Extraction.OCR && tika != nil {
		opts = append(opts, parser.WithOCRExtractor(tika))
	}

	var fetcher parser.Fetcher
	if s.Objects != nil {
		fetcher = s.Objects
	}
	return parser.NewTextExtractor(fetcher, opts...), nil
}
