package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/stemplayer/internal/config"
	"github.com/satindergrewal/stemplayer/internal/transport"
)

// TransportHandler handles the play/pause/seek/restart/gain endpoints.
type TransportHandler struct {
	transport Transport
	settings  *config.SettingsStore
}

// NewTransportHandler creates a transport handler. settings may be nil.
func NewTransportHandler(t Transport, settings *config.SettingsStore) *TransportHandler {
	return &TransportHandler{transport: t, settings: settings}
}

type loadRequest struct {
	Folder string `json:"folder"`
}

// Load replaces the session with the stems in a folder. With no folder in
// the body the last loaded folder is used.
func (h *TransportHandler) Load(c *gin.Context) {
	var req loadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid load request",
				"details": err.Error(),
			})
			return
		}
	}

	if req.Folder == "" && h.settings != nil {
		req.Folder, _ = h.settings.LastFolder()
	}
	if req.Folder == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "folder is required"})
		return
	}

	res, err := h.transport.Load(req.Folder)
	if err != nil && !errors.Is(err, transport.ErrNoStems) {
		c.JSON(errorStatus(err), gin.H{
			"error":   "Failed to load folder",
			"details": err.Error(),
		})
		return
	}

	if err == nil && h.settings != nil {
		if serr := h.settings.SetLastFolder(req.Folder); serr != nil {
			log.Printf("API: could not save last folder: %v", serr)
		}
	}

	status := http.StatusOK
	if err != nil {
		status = errorStatus(err)
	}
	c.JSON(status, newLoadResponse(res))
}

func (h *TransportHandler) Play(c *gin.Context) {
	h.command(c, h.transport.Play)
}

func (h *TransportHandler) Pause(c *gin.Context) {
	h.command(c, h.transport.Pause)
}

func (h *TransportHandler) Restart(c *gin.Context) {
	h.command(c, h.transport.Restart)
}

type seekRequest struct {
	Position *float64 `json:"position" binding:"required"`
}

// Seek moves every stem to a position given in seconds.
func (h *TransportHandler) Seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid seek request",
			"details": err.Error(),
		})
		return
	}
	pos := transport.Seconds(*req.Position)
	h.command(c, func() error { return h.transport.Seek(pos) })
}

type gainRequest struct {
	Gain   *float64 `json:"gain"`
	Volume *float64 `json:"volume"`
}

// SetGain accepts either gain in [0,1] or volume in [0,100].
func (h *TransportHandler) SetGain(c *gin.Context) {
	var req gainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid gain request",
			"details": err.Error(),
		})
		return
	}

	var gain float64
	switch {
	case req.Gain != nil && req.Volume != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "set either gain or volume, not both"})
		return
	case req.Gain != nil:
		gain = *req.Gain
	case req.Volume != nil:
		gain = *req.Volume / 100
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "gain or volume is required"})
		return
	}

	id := transport.StemID(c.Param("id"))
	h.command(c, func() error { return h.transport.SetGain(id, gain) })
}

func (h *TransportHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusResponse(h.transport.Status()))
}

// command runs fn and answers with the resulting status.
func (h *TransportHandler) command(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		c.JSON(errorStatus(err), gin.H{
			"error":  err.Error(),
			"status": newStatusResponse(h.transport.Status()),
		})
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(h.transport.Status()))
}

// SettingsHandler exposes the persisted settings.
type SettingsHandler struct {
	store *config.SettingsStore
}

func NewSettingsHandler(store *config.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load settings",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// HealthCheck returns the health status of the service.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "stemplayer",
		"timestamp": time.Now().Unix(),
	})
}
