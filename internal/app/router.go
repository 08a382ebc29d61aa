package app

import (
	"tutor_backend/internal/config"
	"tutor_backend/internal/middleware"
	"tutor_backend/internal/model"
	"tutor_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		authGroup.GET("/me", c.auth.Me)

		user := authGroup.Group("/user")
		{
			user.GET("/profile", c.user.GetProfile)
			user.PUT("/profile", c.user.UpdateProfile)
			user.POST("/avatar", c.user.UploadAvatar)
		}

		session := authGroup.Group("/session")
		{
			session.POST("/start", c.session.Start)
			session.GET("", c.session.List)
			session.GET("/:id", c.session.Get)
			session.POST("/:id/turn", c.session.Turn)
			session.POST("/:id/suspend", c.session.Suspend)
			session.POST("/:id/terminate", c.session.Terminate)
			session.POST("/:id/complete-onboarding", c.session.CompleteOnboarding)
			session.GET("/:id/turns", c.session.Turns)
		}

		path := authGroup.Group("/path")
		{
			path.GET("", c.path.Overview)
			path.GET("/nodes/:id", c.path.NodeDetail)
		}

		authGroup.GET("/achievements", c.achievement.List)

		admin := authGroup.Group("/admin", middleware.RoleMiddleware(model.Admin))
		{
			admin.POST("/graph/reload", c.health.ReloadGraph)
		}
	}
}
