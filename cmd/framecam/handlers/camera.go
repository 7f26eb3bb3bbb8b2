package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/framecam/pkg/camera"
	"github.com/wachiwi/framecam/pkg/store"
	"github.com/wachiwi/framecam/pkg/trigger"
)

// DefaultStreamInterval is how often the MJPEG stream polls for a new frame.
const DefaultStreamInterval = 40 * time.Millisecond

type CameraHandler struct {
	// Latest holds full-size frames in the output format.
	Latest *camera.Cell
	// Preview holds fitted JPEG frames; nil disables /stream.
	Preview *camera.Cell
	// Requester is nil unless the session runs on demand.
	Requester trigger.Requester
	Store     *store.Store
	Interval  time.Duration
}

func latestStatus(err error) int {
	if errors.Is(err, camera.ErrNoFrame) || errors.Is(err, camera.ErrStale) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *CameraHandler) Stream(c *gin.Context) {
	if h.Preview == nil {
		c.String(http.StatusServiceUnavailable, "Preview not available")
		return
	}
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	c.Header("Content-Type", camera.MJPEGContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	err := camera.StreamMJPEG(c.Request.Context(), c.Writer, c.Writer.Flush, h.Preview, interval)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("stream closed", "client", c.ClientIP(), "error", err)
	}
}

func (h *CameraHandler) Snapshot(c *gin.Context) {
	f, err := h.Latest.Latest()
	if err != nil {
		c.String(latestStatus(err), err.Error())
		return
	}
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Header("Last-Modified", f.CapturedAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, f.Format.ContentType(), f.Data)
}

func (h *CameraHandler) Trigger(c *gin.Context) {
	if h.Requester == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "capture mode is not on-demand"})
		return
	}
	queued := h.Requester.RequestFrame()
	slog.Info("Frame requested", "source", "http", "queued", queued)
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// Save writes the latest frame to the store.
func (h *CameraHandler) Save(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "saving is disabled"})
		return
	}
	f, err := h.Latest.Latest()
	if err != nil {
		c.JSON(latestStatus(err), gin.H{"error": err.Error()})
		return
	}
	name, err := h.Store.Save(f)
	if err != nil {
		slog.Error("Failed to save frame", "seq", f.Seq, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save frame"})
		return
	}
	slog.Info("frame saved", "file", name, "seq", f.Seq)
	c.JSON(http.StatusCreated, gin.H{"name": name, "seq": f.Seq})
}
