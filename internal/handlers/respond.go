package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

// respondErr maps an error chain onto the HTTP response. Client errors echo
// the message; server errors log it and return a generic body.
func respondErr(c *gin.Context, log *logger.Logger, err error) {
	status := apierr.StatusOf(err)
	code := apierr.CodeOf(err)

	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"code", code,
			"error", err.Error(),
		)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}
