package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// SchemaHandler exposes the schema document surface: the defined entity
// types and a reload hook for picking up YAML changes without a restart.
type SchemaHandler struct {
	registry *schema.Registry
	log      *logger.Logger
}

func NewSchemaHandler(registry *schema.Registry, log *logger.Logger) *SchemaHandler {
	return &SchemaHandler{registry: registry, log: log.With("handler", "Schema")}
}

func (h *SchemaHandler) EntityTypes(c *gin.Context) {
	types, err := h.registry.EntityTypes(c.Request.Context())
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

func (h *SchemaHandler) Reload(c *gin.Context) {
	h.registry.Invalidate()
	if _, err := h.registry.Document(c.Request.Context()); err != nil {
		respondErr(c, h.log, err)
		return
	}
	h.log.Info("schema document reloaded")
	c.Status(http.StatusNoContent)
}
