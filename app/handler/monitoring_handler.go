package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"
	"loadwarden/pkg/sampler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultListLimit   = 100
	defaultStreamEvery = 5 * time.Second
	minStreamEvery     = time.Second
	streamWriteTimeout = 10 * time.Second
)

// SystemMonitor is the part of the monitor exposed over HTTP
type SystemMonitor interface {
	CurrentMetrics(ctx context.Context) sampler.Snapshot
	History(limit int) []sampler.Snapshot
	Alerts(limit int) []monitor.Alert
	ResourceSummary(ctx context.Context) monitor.Summary
}

// AlertArchive lists alerts older than the in-memory window
type AlertArchive interface {
	List(ctx context.Context, alertType string, limit int) ([]monitor.Alert, error)
}

// MonitoringHandler handles monitor API requests
type MonitoringHandler struct {
	monitor  SystemMonitor
	archive  AlertArchive
	upgrader websocket.Upgrader
}

// NewMonitoringHandler creates a new monitoring handler. archive may be nil.
func NewMonitoringHandler(m SystemMonitor, archive AlertArchive) *MonitoringHandler {
	return &MonitoringHandler{
		monitor: m,
		archive: archive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// limitParam parses ?limit=, defaulting when absent. ok is false after a 400
// has been written.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

// GetMetrics samples the system synchronously
// GET /v1/monitor/metrics
func (h *MonitoringHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.CurrentMetrics(c.Request.Context()))
}

// GetHistory returns the newest snapshots, oldest first
// GET /v1/monitor/history?limit=100
func (h *MonitoringHandler) GetHistory(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	history := h.monitor.History(limit)
	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"total":   len(history),
	})
}

// GetAlerts returns the newest alerts, oldest first
// GET /v1/monitor/alerts?limit=100
func (h *MonitoringHandler) GetAlerts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	alerts := h.monitor.Alerts(limit)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// GetArchivedAlerts lists archived alerts, newest first
// GET /v1/monitor/alerts/archive?type=memory&limit=100
func (h *MonitoringHandler) GetArchivedAlerts(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert archive not configured"})
		return
	}
	limit, ok := limitParam(c)
	if !ok {
		return
	}

	alerts, err := h.archive.List(c.Request.Context(), c.Query("type"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// GetSummary returns the latest CPU, memory, disk and swap percentages
// GET /v1/monitor/summary
func (h *MonitoringHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.ResourceSummary(c.Request.Context()))
}

// Stream pushes the resource summary over a WebSocket
// GET /v1/monitor/stream?interval=5s
func (h *MonitoringHandler) Stream(c *gin.Context) {
	every := defaultStreamEvery
	if raw := c.Query("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
			return
		}
		every = max(d, minStreamEvery)
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The reader only watches for the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := h.push(ws, h.monitor.ResourceSummary(ctx)); err != nil {
			if !isClosed(err) {
				logger.WarnCtx(ctx, "monitor stream write failed: %v", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (h *MonitoringHandler) push(ws *websocket.Conn, summary monitor.Summary) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(summary)
}

func isClosed(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent)
}
