package webhook

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/metrics"
	"coldcall-bridge/pkg/logger"
)

// maxBodyBytes bounds callback bodies; provider events are small.
const maxBodyBytes = 64 << 10

// Handlers terminates provider callbacks. Signature check, parse, enqueue,
// ack; state changes happen on the dispatcher's workers.
type Handlers struct {
	Dispatcher *Dispatcher

	ConferenceSecret string
	DirectSecret     string
}

func (h *Handlers) HandleConferenceEvent(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !ValidSignature(h.ConferenceSecret, c.GetHeader(SignatureHeader), body) {
		log.Warn("conference webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	// ParseForm reads the body; hand it back after the signature pass.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	form, err := ParseConferenceCallback(c.Request)
	if err != nil {
		log.Warn("conference webhook parse failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ev, ok := form.Event()
	if !ok || ev.SessionID == "" {
		// Valid but uninteresting (or untaggable) callbacks are still acked;
		// the vendor must not retry them.
		c.Status(http.StatusOK)
		return
	}
	h.enqueue(c, ev)
}

func (h *Handlers) HandleDirectEvent(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if !ValidSignature(h.DirectSecret, c.GetHeader(SignatureHeader), body) {
		log.Warn("direct webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	payload, err := ParseDirectEvent(bytes.NewReader(body))
	if err != nil {
		log.Warn("direct webhook parse failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ev, ok := payload.Event()
	if !ok || ev.SessionID == "" {
		c.Status(http.StatusOK)
		return
	}
	h.enqueue(c, ev)
}

func (h *Handlers) enqueue(c *gin.Context, ev bridge.Event) {
	if !h.Dispatcher.Enqueue(ev) {
		// Backpressure: a 5xx makes the vendor redeliver later instead of
		// losing the event on our floor.
		logger.FromGin(c).Warn("webhook queue full", "session_id", ev.SessionID, "type", string(ev.Type))
		metrics.IncWebhookEvent(ev.Provider, string(ev.Type), "queue_full")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event queue full"})
		return
	}
	c.Status(http.StatusOK)
}
