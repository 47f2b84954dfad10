package router

import (
	"stage-ai-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app/server"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, evaluationHandler *handler.EvaluationHandler) {
	h.GET("/health", evaluationHandler.HandleHealth)

	v1 := h.Group("/v1")
	v1.POST("/evaluate", evaluationHandler.HandleEvaluate)
	v1.POST("/transcribe", evaluationHandler.HandleTranscribe)
	v1.GET("/runs/:id", evaluationHandler.HandleGetRun)
	v1.POST("/test-config", evaluationHandler.HandleTestConfig)
}
