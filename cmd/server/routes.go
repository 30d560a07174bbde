package main

import (
	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.RequestID(), logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/refresh", svc.authHandler.Refresh)
		}

		// Temporary tokens: robots is public, account and mfa need a session
		api.POST("/temp-token", middleware.OptionalAuth(svc.session), svc.tempTokenHandler.Issue)
		api.POST("/temp-token/validate", svc.tempTokenHandler.Validate)

		// Public share access and downloads, throttled per IP
		public := api.Group("", svc.shareLimiter.Middleware())
		{
			public.GET("/share/:code", svc.shareHandler.Info)
			public.GET("/share/:code/exists", svc.shareHandler.Exists)
			public.POST("/share/:code/token", robotsCheck(svc)...)
			public.GET("/download/:token", svc.downloadHandler.ByToken)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(svc.session))
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password",
				middleware.RequireSceneToken(services.SceneAccount, svc.tempTokens),
				svc.authHandler.ChangePassword)

			// Two-factor authentication, changes need an mfa scene token
			mfaToken := middleware.RequireSceneToken(services.SceneMFA, svc.tempTokens)
			protected.GET("/auth/mfa", svc.mfaHandler.Status)
			protected.POST("/auth/mfa/setup", mfaToken, svc.mfaHandler.Setup)
			protected.POST("/auth/mfa/confirm", mfaToken, svc.mfaHandler.Confirm)
			protected.POST("/auth/mfa/disable", mfaToken, svc.mfaHandler.Disable)

			// Files
			protected.GET("/files/download", svc.downloadHandler.OwnFile)
			protected.POST("/files/upload", svc.fileHandler.Upload)
			protected.GET("/files/quota", svc.fileHandler.Quota)

			// Shareable files
			protected.POST("/share-files", svc.shareManageHandler.AddFiles)
			protected.GET("/share-files", svc.shareManageHandler.ListFiles)
			protected.DELETE("/share-files/:id", svc.shareManageHandler.RemoveFile)

			// Shares and their download tokens
			protected.POST("/shares", svc.shareManageHandler.CreateShare)
			protected.GET("/shares", svc.shareManageHandler.ListShares)
			protected.PUT("/shares/:id", svc.shareManageHandler.UpdateShare)
			protected.DELETE("/shares/:id", svc.shareManageHandler.DeleteShare)
			protected.GET("/shares/:id/statistics", svc.shareManageHandler.Statistics)
			protected.GET("/shares/:id/tokens", svc.shareManageHandler.ListTokens)
			protected.DELETE("/shares/:id/tokens/:token", svc.shareManageHandler.RevokeToken)
		}

		// Admin routes
		admin := api.Group("/admin")
		admin.Use(middleware.AuthRequired(svc.session), middleware.AdminRequired(), middleware.AuditLog())
		{
			// Download tokens
			admin.GET("/tokens/stats", svc.adminHandler.TokenStats)
			admin.POST("/tokens/cleanup", svc.adminHandler.CleanupTokens)
			admin.DELETE("/tokens/:token", svc.adminHandler.RevokeToken)

			// Ban list and ephemeral token ledger
			admin.GET("/bans", svc.adminHandler.ListBans)
			admin.POST("/bans", svc.adminHandler.Ban)
			admin.DELETE("/bans/:ip", svc.adminHandler.Unban)
			admin.GET("/ledger/:ip", svc.adminHandler.LedgerEntry)
			admin.DELETE("/ledger/:ip", svc.adminHandler.ClearLedger)

			// Users
			admin.GET("/users", svc.userHandler.List)
			admin.GET("/users/statistics", svc.userHandler.Statistics)
			admin.POST("/users", svc.userHandler.Create)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)
			admin.POST("/users/:id/reset-password", svc.userHandler.ResetPassword)
			admin.DELETE("/users/:id/mfa", svc.userHandler.DisableMFA)

			// System logs
			admin.GET("/system-logs", svc.systemLogHandler.List)
			admin.GET("/system-logs/modules", svc.systemLogHandler.GetModules)
			admin.POST("/system-logs/cleanup", svc.systemLogHandler.Cleanup)
			admin.PUT("/system-logs/retention", svc.systemLogHandler.SetRetention)

			// Database-backed settings
			admin.GET("/config/:group", svc.systemConfigHandler.GetGroup)
			admin.PUT("/config/:group", svc.systemConfigHandler.UpdateGroup)
		}
	}
}

// robotsCheck puts a robots scene token in front of public share token
// issuance when the deployment asks for it.
func robotsCheck(svc *appServices) []gin.HandlerFunc {
	if !svc.cfg.Security.RequireRobotsToken {
		return []gin.HandlerFunc{svc.shareHandler.IssueToken}
	}
	return []gin.HandlerFunc{
		middleware.RequireSceneToken(services.SceneRobots, svc.tempTokens),
		svc.shareHandler.IssueToken,
	}
}
