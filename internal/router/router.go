package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/itd-tools/erp-change-portal/internal/handler"
	"github.com/itd-tools/erp-change-portal/internal/middleware"
	"github.com/itd-tools/erp-change-portal/internal/models"
	"github.com/itd-tools/erp-change-portal/internal/service"
	"github.com/itd-tools/erp-change-portal/pkg/config"
	"github.com/itd-tools/erp-change-portal/pkg/logger"
	corsmiddleware "github.com/itd-tools/erp-change-portal/pkg/middleware/cors"
	reqidmiddleware "github.com/itd-tools/erp-change-portal/pkg/middleware/requestid"
)

// Deps bundles everything the HTTP surface needs.
type Deps struct {
	Cfg    *config.Config
	Logger *zap.Logger

	AuthService *service.AuthService
	Metrics     *service.MetricsService

	Auth        *handler.AuthHandler
	Requests    *handler.RequestHandler
	Departments *handler.DepartmentHandler
	ConnLogs    *handler.ConnectionLogHandler
	Public      *handler.PublicHandler
	Terminal    *handler.TerminalHandler
}

// New builds the gin engine with all routes and middleware wired.
func New(d Deps) *gin.Engine {
	if d.Cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(d.Logger))
	r.Use(corsmiddleware.New(d.Cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	if d.Cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Magic-link endpoints carry their own single-use tokens.
	r.GET("/public/approve", d.Public.Approve)
	r.GET("/public/reject", d.Public.Reject)

	api := r.Group(d.Cfg.APIPrefix)
	{
		api.POST("/auth/login", d.Auth.Login)
		api.POST("/auth/refresh", d.Auth.Refresh)
	}

	authed := api.Group("", middleware.JWT(d.AuthService))
	{
		authed.POST("/auth/logout", d.Auth.Logout)

		authed.GET("/modules", d.Requests.ListModules)

		authed.POST("/requests", d.Requests.Create)
		authed.GET("/requests", d.Requests.List)
		authed.GET("/requests/:id", d.Requests.Get)
		authed.PUT("/requests/:id", d.Requests.Update)
		authed.DELETE("/requests/:id", d.Requests.Delete)
		authed.POST("/requests/:id/actions", d.Requests.Action)
		authed.POST("/requests/:id/files", d.Requests.UploadFile)
		authed.PUT("/requests/:id/files", d.Requests.UpdateFiles)
		authed.GET("/requests/:id/files/:fileId", d.Requests.DownloadFile)
		authed.DELETE("/requests/:id/files/:fileId", d.Requests.DeleteFile)

		authed.GET("/departments", d.Departments.List)

		admin := authed.Group("", middleware.RequireRoles(models.RoleAdmin))
		{
			admin.GET("/departments/:id/approvers", d.Departments.Approvers)
			admin.POST("/departments/:id/approvers", d.Departments.CreateApprover)
			admin.PUT("/departments/:id/approvers/:approverId", d.Departments.UpdateApprover)
			admin.DELETE("/departments/:id/approvers/:approverId", d.Departments.DeleteApprover)
		}

		dba := authed.Group("", middleware.RequireRoles(models.RoleDBA))
		{
			dba.GET("/connection-logs", d.ConnLogs.List)
		}
	}

	// Browsers cannot set headers on websocket dials, so the JWT middleware
	// also accepts ?token= here.
	r.GET("/ws/terminal", middleware.JWT(d.AuthService), d.Terminal.Serve)

	return r
}
