package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
)

const readHeaderTimeout = 5 * time.Second

// NewAdminServer builds the operator HTTP server on cfg.AdminAddr. It is
// separate from the relay port, which only speaks the WebSocket upgrade.
func NewAdminServer(registry *core.Registry, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.AdminAddr,
		Handler:           NewRouter(registry, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// NewRouter registers the admin routes.
func NewRouter(registry *core.Registry, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	h := NewStatsHandlers(registry)
	router.GET("/health", healthHandler)
	router.GET("/stats", h.Stats)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
