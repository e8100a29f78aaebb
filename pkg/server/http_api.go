package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// findingsHandler serves recent report events, newest first.
func (s *HTTP) findingsHandler(c *gin.Context) {
	limit := s.config.Bounds.FindingsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	events := s.service.Report().Store().Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// statsHandler serves the runtime progress snapshot.
func (s *HTTP) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Stats())
}
