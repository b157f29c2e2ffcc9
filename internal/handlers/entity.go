package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hubmapconsortium/entity-api/internal/entity"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// EntityHandler translates HTTP requests into entity worker calls. No
// business logic lives here; handlers parse, delegate, and map errors to
// status codes.
type EntityHandler struct {
	worker *entity.Worker
	log    *logger.Logger
}

func NewEntityHandler(worker *entity.Worker, log *logger.Logger) *EntityHandler {
	return &EntityHandler{worker: worker, log: log.With("handler", "Entity")}
}

func (h *EntityHandler) caller(c *gin.Context) (*entity.Caller, bool) {
	caller, err := h.worker.ResolveCaller(
		c.Request.Context(),
		bearerToken(c),
		c.GetHeader(schema.ApplicationHeader),
	)
	if err != nil {
		respondErr(c, h.log, err)
		return nil, false
	}
	return caller, true
}

func (h *EntityHandler) GetEntity(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	result, err := h.worker.GetEntity(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateEntity accepts either a single JSON object or an array of objects;
// arrays become a batch create sharing one identifier mint.
func (h *EntityHandler) CreateEntity(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	entityType := c.Param("entity_type")

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var payloads []map[string]any
		if err := json.Unmarshal(raw, &payloads); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object or array of objects"})
			return
		}
		results, err := h.worker.CreateEntities(c.Request.Context(), caller, entityType, payloads)
		if err != nil {
			respondErr(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, results)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}
	result, err := h.worker.CreateEntity(c.Request.Context(), caller, entityType, payload)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) UpdateEntity(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}
	result, err := h.worker.UpdateEntity(c.Request.Context(), caller, c.Param("id"), payload)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) Ancestors(c *gin.Context)   { h.lineage(c, h.worker.Ancestors) }
func (h *EntityHandler) Descendants(c *gin.Context) { h.lineage(c, h.worker.Descendants) }
func (h *EntityHandler) Parents(c *gin.Context)     { h.lineage(c, h.worker.Parents) }
func (h *EntityHandler) Children(c *gin.Context)    { h.lineage(c, h.worker.Children) }
func (h *EntityHandler) Siblings(c *gin.Context)    { h.lineage(c, h.worker.Siblings) }
func (h *EntityHandler) Tuplets(c *gin.Context)     { h.lineage(c, h.worker.Tuplets) }

type lineageFunc func(ctx context.Context, caller *entity.Caller, id string, opts graph.LineageOptions) ([]map[string]any, error)

func (h *EntityHandler) lineage(c *gin.Context, walk lineageFunc) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	opts := graph.LineageOptions{
		Property:         c.Query("property"),
		IncludeRevisions: queryFlag(c, "include-old-revisions"),
	}
	if status := c.Query("status"); status != "" {
		opts.StatusFilter = schema.NormalizeStatus(status)
	}
	result, err := walk(c.Request.Context(), caller, c.Param("id"), opts)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) Revisions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	result, err := h.worker.Revisions(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) Provenance(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	depth := 0
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
			return
		}
		depth = parsed
	}
	result, err := h.worker.Provenance(c.Request.Context(), caller, c.Param("id"), depth)
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) CollectionDatasets(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	result, err := h.worker.CollectionDatasets(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) UploadDatasets(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	result, err := h.worker.UploadDatasets(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EntityHandler) EntitiesByType(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	result, err := h.worker.EntitiesByType(c.Request.Context(), caller, c.Param("entity_type"))
	if err != nil {
		respondErr(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func queryFlag(c *gin.Context, name string) bool {
	value := strings.ToLower(strings.TrimSpace(c.Query(name)))
	return value == "true" || value == "1" || value == "yes"
}
