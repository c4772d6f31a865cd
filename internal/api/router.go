package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/storyvoice_go_server/config"
	"github.com/qs3c/storyvoice_go_server/internal/api/handler"
	"github.com/qs3c/storyvoice_go_server/internal/api/middleware"
	"github.com/qs3c/storyvoice_go_server/internal/repository"
)

type Router struct {
	authHandler   *handler.AuthHandler
	voiceHandler  *handler.VoiceHandler
	audioHandler  *handler.AudioHandler
	creditHandler *handler.CreditHandler
	storyHandler  *handler.StoryHandler
	adminHandler  *handler.AdminHandler
	userRepo      *repository.UserRepository
	cfg           *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	voiceHandler *handler.VoiceHandler,
	audioHandler *handler.AudioHandler,
	creditHandler *handler.CreditHandler,
	storyHandler *handler.StoryHandler,
	adminHandler *handler.AdminHandler,
	userRepo *repository.UserRepository,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:   authHandler,
		voiceHandler:  voiceHandler,
		audioHandler:  audioHandler,
		creditHandler: creditHandler,
		storyHandler:  storyHandler,
		adminHandler:  adminHandler,
		userRepo:      userRepo,
		cfg:           cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/verify-email", r.authHandler.VerifyEmail)
		}

		// 公开接口 - 故事目录
		api.GET("/stories", r.storyHandler.List)
		api.GET("/stories/:id", r.storyHandler.Get)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 声音
			voices := authenticated.Group("/voices")
			{
				voices.POST("", r.voiceHandler.Upload)
				voices.GET("", r.voiceHandler.List)
				voices.GET("/:id", r.voiceHandler.Get)
				voices.DELETE("/:id", r.voiceHandler.Delete)
				voices.POST("/:id/stories/:story_id/audio", r.audioHandler.StartSynthesis)
				voices.GET("/:id/stories/:story_id/audio", r.audioHandler.GetAudio)
			}

			// 积分
			me := authenticated.Group("/me")
			{
				me.GET("/credits", r.creditHandler.GetSummary)
				me.GET("/credits/history", r.creditHandler.GetHistory)
			}
		}

		// 管理接口
		admin := api.Group("/admin")
		admin.Use(middleware.Auth(r.cfg.JWT.Secret))
		admin.Use(middleware.AdminOnly(r.userRepo))
		{
			admin.POST("/users/:id/credits/grant", r.adminHandler.GrantCredits)
			admin.POST("/credits/expire", r.adminHandler.ExpireLots)
			admin.GET("/voice-slots/status", r.adminHandler.SlotStatus)
			admin.POST("/voice-slots/process-queue", r.adminHandler.ProcessQueue)
			admin.POST("/voice-slots/reclaim", r.adminHandler.ReclaimIdle)
		}
	}

	return engine
}
