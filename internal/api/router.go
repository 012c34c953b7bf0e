package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/stemplayer/internal/config"
)

// RouterConfig wires the handlers. Hub, Settings, Stream and Offer are
// optional.
type RouterConfig struct {
	Transport   Transport
	Settings    *config.SettingsStore
	Hub         *StatusHub
	CORSOrigins []string

	// Stream serves the MP3 listener stream, Offer the WebRTC SDP exchange.
	Stream http.Handler
	Offer  http.Handler
}

// NewRouter builds the gin engine for server mode.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.GET("/health", HealthCheck)

	th := NewTransportHandler(cfg.Transport, cfg.Settings)
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", th.Status)
		apiGroup.POST("/load", th.Load)
		apiGroup.POST("/play", th.Play)
		apiGroup.POST("/pause", th.Pause)
		apiGroup.POST("/restart", th.Restart)
		apiGroup.POST("/seek", th.Seek)
		apiGroup.POST("/stems/:id/gain", th.SetGain)

		if cfg.Settings != nil {
			apiGroup.GET("/settings", NewSettingsHandler(cfg.Settings).GetSettings)
		}
		if cfg.Hub != nil {
			apiGroup.GET("/ws/status", cfg.Hub.HandleWebSocket)
		}
	}

	if cfg.Stream != nil {
		r.GET("/stream", gin.WrapH(cfg.Stream))
	}
	if cfg.Offer != nil {
		r.POST("/offer", gin.WrapH(cfg.Offer))
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	return cors.New(corsConfig)
}
