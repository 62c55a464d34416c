// Package api - Router setup
package api

import (
	"time"

	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/config"
	"github.com/aethra/reportdesk/internal/logger"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxUploadMemory bounds the in-memory part of a multipart branch upload.
const maxUploadMemory = 16 << 20

// SetupRouter creates and configures the Gin router
func SetupRouter(handler *Handler, cfg config.CORSConfig, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadMemory
	r.Use(gin.Recovery())
	r.Use(logger.Middleware())
	r.Use(m.Middleware())

	// When credentials are used, specific origins must be provided (not *)
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", logger.RequestIDKey},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Content-Disposition", logger.RequestIDKey},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/metrics", gin.WrapH(m.Handler()))

	api := r.Group("/api")
	api.GET("/health", handler.Health)

	// ==========================================================================
	// AUTH API
	// ==========================================================================
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/sign-in", handler.SignIn)
		authRoutes.POST("/login", handler.SignIn)
		authRoutes.POST("/sign-out", handler.SignOut)
		authRoutes.GET("/logout", handler.SignOut)
	}

	protected := api.Group("")
	protected.Use(handler.AuthMiddleware())

	protected.GET("/auth/me", handler.Me)
	protected.GET("/auth/current", handler.Me)
	protected.POST("/auth/register",
		handler.PermissionMiddleware(auth.ResourceUsers, auth.ActionCreate), handler.Register)

	// ==========================================================================
	// REPORTS
	// ==========================================================================
	reports := protected.Group("/reports")
	{
		view := handler.PermissionMiddleware(auth.ResourceReports, auth.ActionView)
		create := handler.PermissionMiddleware(auth.ResourceReports, auth.ActionCreate)
		edit := handler.PermissionMiddleware(auth.ResourceReports, auth.ActionEdit)
		remove := handler.PermissionMiddleware(auth.ResourceReports, auth.ActionDelete)

		reports.GET("/client/:client_id", view, handler.ListReports)
		reports.GET("/user-performance/:user_id",
			handler.PermissionMiddleware(auth.ResourcePerformance, auth.ActionView), handler.UserPerformance)
		reports.GET("/client-performance/:client_id",
			handler.PermissionMiddleware(auth.ResourceClients, auth.ActionView), handler.ClientPerformance)
		reports.POST("/client-dashboard-data",
			handler.PermissionMiddleware(auth.ResourceDashboard, auth.ActionView), handler.ClientDashboardData)

		reports.GET("/:id", view, handler.GetReport)
		reports.POST("", create, handler.SaveReport)
		reports.PUT("/:id", edit, handler.SaveReport)
		reports.PATCH("/:id/status", edit, handler.UpdateReportStatus)
		reports.PUT("/:id/status", edit, handler.UpdateReportStatus)
		reports.DELETE("/:id", remove, handler.DeleteReport)
	}

	// ==========================================================================
	// CLIENTS - admin only
	// ==========================================================================
	clients := protected.Group("/client")
	{
		clients.GET("/fetch", handler.PermissionMiddleware(auth.ResourceClients, auth.ActionView), handler.ListClients)
		clients.GET("/view", handler.PermissionMiddleware(auth.ResourceClients, auth.ActionView), handler.ViewClient)
		clients.POST("/create", handler.PermissionMiddleware(auth.ResourceClients, auth.ActionCreate), handler.CreateClient)
		clients.POST("/update", handler.PermissionMiddleware(auth.ResourceClients, auth.ActionEdit), handler.UpdateClient)
		clients.DELETE("/delete", handler.PermissionMiddleware(auth.ResourceClients, auth.ActionDelete), handler.DeleteClient)
	}

	// ==========================================================================
	// BRANCHES
	// ==========================================================================
	branches := protected.Group("/branch")
	{
		branches.GET("/fetch", handler.PermissionMiddleware(auth.ResourceBranches, auth.ActionView), handler.FetchBranches)
		branches.GET("/download-data", handler.PermissionMiddleware(auth.ResourceBranches, auth.ActionExport), handler.DownloadBranches)
		branches.POST("/upload", handler.PermissionMiddleware(auth.ResourceBranches, auth.ActionImport), handler.UploadBranches)
		branches.POST("/add", handler.PermissionMiddleware(auth.ResourceBranches, auth.ActionCreate), handler.AddBranch)
		branches.DELETE("/delete", handler.PermissionMiddleware(auth.ResourceBranches, auth.ActionDelete), handler.DeleteBranch)
	}

	return r
}
