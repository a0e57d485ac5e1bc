// Package handlers provides HTTP request handlers for the chat relay.
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/hub"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
	"github.com/oremus-labs/ol-chat-relay/internal/tools"
	"github.com/oremus-labs/ol-chat-relay/internal/transcript"
	"github.com/oremus-labs/ol-chat-relay/internal/webui"
)

const maxInboundBytes = 1 << 20

type toolLister interface {
	ListTools() []tools.Spec
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Options configures handler runtime behavior.
type Options struct {
	// Shutdown is cancelled when the process stops; hijacked viewer
	// connections outlive their request context and watch this instead.
	Shutdown context.Context
	// Database is optional; when set its health is reported by /healthz.
	Database pinger
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	hub        *hub.Hub
	transcript *transcript.Store
	tools      toolLister
	opts       Options
	upgrader   websocket.Upgrader
}

// New creates a new Handler instance.
func New(h *hub.Hub, store *transcript.Store, registry toolLister, opts Options) *Handler {
	if opts.Shutdown == nil {
		opts.Shutdown = context.Background()
	}
	return &Handler{
		hub:        h,
		transcript: store,
		tools:      registry,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Viewers are unauthenticated; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Health reports liveness plus viewer and queue counts.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"viewers": h.hub.Count(),
		"pending": h.hub.Pending(),
	}
	if h.opts.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Database.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}

// Index serves the browser viewer.
func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", webui.Index())
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logutil.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.hub.ServeConn(h.opts.Shutdown, conn); err != nil {
		logutil.Debug("viewer connection closed", map[string]interface{}{"error": err.Error()})
	}
}

// StreamEvents relays broadcast events as server-sent events.
func (h *Handler) StreamEvents(c *gin.Context) {
	sub := h.hub.Connect()
	defer h.hub.Disconnect(sub)

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.opts.Shutdown.Done():
			return false
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return true
		}
	})
}

// GetTranscript returns a consistent snapshot of the conversation.
func (h *Handler) GetTranscript(c *gin.Context) {
	entries := h.transcript.Snapshot()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// ListTools returns the tools the model may request.
func (h *Handler) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.tools.ListTools()})
}

// PostMessage queues a send_message payload exactly as a viewer would.
func (h *Handler) PostMessage(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInboundBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	msg, err := events.ParseInbound(data)
	if err != nil {
		metrics.InboundDropped()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.hub.Enqueue(msg)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "pending": h.hub.Pending()})
}
