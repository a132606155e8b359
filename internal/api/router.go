package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/api/handlers"
	"github.com/craftlink/domain-warden/internal/api/middleware"
	"github.com/craftlink/domain-warden/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
}

func NewServer(cfg *config.Config, handler *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", handlers.HealthCheck)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Edge-facing routing lookups, shared-token auth.
	internal := s.Router.Group("/internal")
	internal.Use(middleware.InternalAuth(s.Config.Server.InternalToken))
	{
		internal.GET("/routing/:hostname", s.handler.ResolveRouting)
	}

	// Tenant-facing API, JWT auth.
	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.Server.JWTSecret))
	api.Use(middleware.Tenant())
	{
		api.POST("/domain-mappings", s.handler.CreateMapping)
		api.GET("/domain-mappings", s.handler.ListMappings)
		api.GET("/domain-mappings/:id", s.handler.GetMapping)
		api.PUT("/domain-mappings/:id", s.handler.UpdateMapping)
		api.DELETE("/domain-mappings/:id", s.handler.DeleteMapping)

		api.POST("/domain-mappings/:id/verify", s.handler.VerifyMapping)
		api.POST("/domain-mappings/:id/renew-certificate", s.handler.RenewCertificate)

		api.GET("/domain-mappings/:id/health", s.handler.GetMappingHealth)
		api.GET("/domain-mappings/:id/analytics", s.handler.GetMappingAnalytics)
		api.POST("/domain-mappings/:id/test", s.handler.TestMapping)
	}
}
