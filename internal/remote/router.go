package remote

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/events"
)

// Controller is the session surface the daemon exposes.
type Controller interface {
	GoLive(ctx context.Context, form domain.StreamForm, mode domain.SourceMode, toggles domain.Toggles) (domain.Status, error)
	StopLive(ctx context.Context) (domain.Status, error)
	ToggleScreenShare(ctx context.Context) (domain.Toggles, error)
	ToggleAudio() (domain.Toggles, error)
	ToggleVideo() (domain.Toggles, error)
	Status() domain.Status
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
}

type goLiveRequest struct {
	Form       domain.StreamForm `json:"form"`
	SourceMode domain.SourceMode `json:"sourceMode"`
	// Toggles defaults to audio and video on.
	Toggles *domain.Toggles `json:"toggles"`
}

// NewRouter builds the control API. Routes run the controller with the
// request context, so a client that disconnects mid go-live cancels it.
func NewRouter(ctrl Controller, hub *Hub, logger zerolog.Logger) *gin.Engine {
	logger = logger.With().Str("module", "remote.http").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/ws", func(c *gin.Context) {
		hub.serve(c, func() Message {
			return Message{Event: events.Status, Payload: ctrl.Status()}
		})
	})

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		success(c, gin.H{"status": "ok", "clients": hub.Clients()})
	})
	api.GET("/session", func(c *gin.Context) {
		success(c, ctrl.Status())
	})
	api.POST("/session/live", func(c *gin.Context) {
		var req goLiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		toggles := domain.Toggles{Audio: true, Video: true}
		if req.Toggles != nil {
			toggles = *req.Toggles
		}
		status, err := ctrl.GoLive(c.Request.Context(), req.Form, req.SourceMode, toggles)
		if err != nil {
			failure(c, err, status)
			return
		}
		success(c, status)
	})
	api.DELETE("/session/live", func(c *gin.Context) {
		status, err := ctrl.StopLive(c.Request.Context())
		if err != nil {
			failure(c, err, status)
			return
		}
		success(c, status)
	})
	api.POST("/session/toggles/:name", func(c *gin.Context) {
		var (
			toggles domain.Toggles
			err     error
		)
		switch c.Param("name") {
		case "audio":
			toggles, err = ctrl.ToggleAudio()
		case "video":
			toggles, err = ctrl.ToggleVideo()
		case "screen":
			toggles, err = ctrl.ToggleScreenShare(c.Request.Context())
		default:
			badRequest(c, "unknown toggle "+c.Param("name"))
			return
		}
		if err != nil {
			failure(c, err, toggles)
			return
		}
		success(c, toggles)
	})
	api.GET("/devices", func(c *gin.Context) {
		devices, err := ctrl.EnumerateDevices(c.Request.Context())
		if err != nil {
			failure(c, err, nil)
			return
		}
		success(c, devices)
	})

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
