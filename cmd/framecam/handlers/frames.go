package handlers

import (
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/framecam/pkg/store"
)

type FrameHandler struct {
	Store      *store.Store
	TemplateFS fs.FS
	// Streaming shows the live preview on the index page.
	Streaming bool
	// OnDemand shows the shutter button.
	OnDemand bool
}

func (h *FrameHandler) entries() []store.Entry {
	if h.Store == nil {
		return []store.Entry{}
	}
	entries, err := h.Store.Entries()
	if err != nil {
		slog.Error("Failed to read capture journal", "error", err)
		return []store.Entry{}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}

func (h *FrameHandler) Index(c *gin.Context) {
	tmpl, err := template.ParseFS(h.TemplateFS, "templates/index.html")
	if err != nil {
		slog.Error("Failed to parse index template", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	err = tmpl.Execute(c.Writer, gin.H{
		"entries":   h.entries(),
		"streaming": h.Streaming,
		"onDemand":  h.OnDemand,
		"saving":    h.Store != nil,
	})
	if err != nil {
		slog.Error("Template execution error", "error", err)
	}
}

// List returns the capture journal, newest first.
func (h *FrameHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.entries())
}

func (h *FrameHandler) Download(c *gin.Context) {
	if h.Store == nil {
		c.String(http.StatusNotFound, "Saving is disabled")
		return
	}
	name := c.Param("name")
	path, err := h.Store.Path(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.String(http.StatusNotFound, "Frame not found")
			return
		}
		c.String(http.StatusInternalServerError, "Failed to open frame")
		return
	}
	c.FileAttachment(path, name)
}
