package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/console/internal/console"
	"github.com/MarcoPoloResearchLab/console/internal/notifications"
	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
	"github.com/MarcoPoloResearchLab/console/internal/stats"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingConsole = errors.New("console dependency required")
	errMissingEvents  = errors.New("event hub dependency required")
)

// Console is the façade the transport serves.
type Console interface {
	View(name, query string) (console.ViewSnapshot, error)
	NotificationFeed() notifications.FeedState
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	StatsSummary(ctx context.Context) (stats.Summary, error)
}

type Dependencies struct {
	Console           Console
	Events            *EventHub
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Console == nil {
		return nil, errMissingConsole
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		console:   deps.Console,
		events:    deps.Events,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/stats", handler.handleStats)
	router.GET("/views/:set", handler.handleView)
	router.GET("/notifications", handler.handleNotifications)
	router.POST("/notifications/read-all", handler.handleMarkAllRead)
	router.POST("/notifications/:id/read", handler.handleMarkRead)
	router.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	console   Console
	events    *EventHub
	heartbeat time.Duration
	logger    *zap.Logger
}

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	summary, err := h.console.StatsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleView(c *gin.Context) {
	snapshot, err := h.console.View(c.Param("set"), strings.TrimSpace(c.Query("q")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, h.console.NotificationFeed())
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	if err := h.console.MarkNotificationRead(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.console.NotificationFeed())
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	if err := h.console.MarkAllNotificationsRead(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.console.NotificationFeed())
}

// handleEvents streams view-change events until the client disconnects.
// ?set= narrows the stream to one entity set.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, c.Query("set"))
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Event-Source", eventSource)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(EventViewChanged, event)
			return true
		}
	})
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, reason := classifyError(err)
	payload := errorPayload{Error: reason}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		payload.Code = coded.Code()
	}
	if status >= http.StatusInternalServerError && !errors.Is(err, console.ErrLoading) {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("reason", reason),
			zap.Error(err))
	}
	c.JSON(status, payload)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, console.ErrUnknownView):
		return http.StatusNotFound, "unknown_view"
	case errors.Is(err, console.ErrLoading):
		return http.StatusServiceUnavailable, "loading"
	case errors.Is(err, rowstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, rowstore.ErrWriteFailed):
		return http.StatusInternalServerError, "write_failed"
	case errors.Is(err, stats.ErrPartialAggregate):
		return http.StatusServiceUnavailable, "stats_unavailable"
	case errors.Is(err, rowstore.ErrReadFailed):
		return http.StatusServiceUnavailable, "read_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
