package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubmapconsortium/entity-api/internal/handlers"
	"github.com/hubmapconsortium/entity-api/internal/middleware"
)

type RouterConfig struct {
	EntityHandler *handlers.EntityHandler
	SchemaHandler *handlers.SchemaHandler
	RequestLog    gin.HandlerFunc
	Metrics       *middleware.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.RequestLog != nil {
		router.Use(cfg.RequestLog)
	}
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Handler())
	}

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Hubmap-Application", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Schema surface
	router.GET("/entity-types", cfg.SchemaHandler.EntityTypes)
	router.PUT("/schema/reload", cfg.SchemaHandler.Reload)

	// Entity CRUD
	router.GET("/entities/:id", cfg.EntityHandler.GetEntity)
	router.POST("/entities/type/:entity_type", cfg.EntityHandler.CreateEntity)
	router.PUT("/entities/:id", cfg.EntityHandler.UpdateEntity)
	router.GET("/entities/type/:entity_type", cfg.EntityHandler.EntitiesByType)

	// Lineage
	router.GET("/ancestors/:id", cfg.EntityHandler.Ancestors)
	router.GET("/descendants/:id", cfg.EntityHandler.Descendants)
	router.GET("/parents/:id", cfg.EntityHandler.Parents)
	router.GET("/children/:id", cfg.EntityHandler.Children)
	router.GET("/siblings/:id", cfg.EntityHandler.Siblings)
	router.GET("/tuplets/:id", cfg.EntityHandler.Tuplets)

	// Revisions and provenance
	router.GET("/entities/:id/revisions", cfg.EntityHandler.Revisions)
	router.GET("/entities/:id/provenance", cfg.EntityHandler.Provenance)

	// Associations
	router.GET("/collections/:id/datasets", cfg.EntityHandler.CollectionDatasets)
	router.GET("/uploads/:id/datasets", cfg.EntityHandler.UploadDatasets)

	return router
}

func allowedOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
