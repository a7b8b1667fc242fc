package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirerelay/internal/core"
)

// StatsHandlers exposes registry state to operators.
type StatsHandlers struct {
	registry *core.Registry
}

// NewStatsHandlers creates handlers over registry.
func NewStatsHandlers(registry *core.Registry) *StatsHandlers {
	return &StatsHandlers{registry: registry}
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Connections int      `json:"connections"`
	Names       []string `json:"names"`
}

// Stats reports the live connection count and the names of joined users.
// GET /stats
func (h *StatsHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Connections: h.registry.Len(),
		Names:       h.registry.Names(),
	})
}
