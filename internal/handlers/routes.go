package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the service API under /api/v1.
func RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/channels/:channel_id/baseline/recalculate", RecalculateBaseline)
	api.GET("/channels/:channel_id/baseline", GetBaseline)
	api.POST("/channels/:channel_id/score", ScoreChannel)

	api.POST("/posts/:id/score", ScorePost)
	api.POST("/posts/:id/pipeline", RunPipeline)
	api.GET("/posts/:id/pipeline/runs", ListPipelineRuns)
	api.GET("/pipeline/runs/:id", GetPipelineRun)

	api.POST("/sandbox/sessions", StartSandboxSession)
	api.GET("/sandbox/sessions/:id", GetSandboxSession)
	api.POST("/sandbox/sessions/:id/continue", ContinueSandboxSession)
	api.POST("/sandbox/sessions/:id/edit", EditSandboxData)
	api.POST("/sandbox/sessions/:id/restart", RestartSandboxSession)
	api.DELETE("/sandbox/sessions/:id", DeleteSandboxSession)
	api.GET("/sandbox/sessions/:id/log", GetDebugLog)

	api.GET("/settings", GetSettings)
	api.GET("/settings/:key", GetSetting)
	api.PUT("/settings/:key", UpdateSetting)
}
