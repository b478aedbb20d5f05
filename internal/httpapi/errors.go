package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/pkg/phone"
)

// writeError maps service errors onto the wire taxonomy. Handlers never
// hand-pick status codes for errors coming out of the bridge; everything
// funnels through here so a given failure always reads the same to
// clients.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, phone.ErrInvalidNumber):
		return http.StatusBadRequest, "invalid_number"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusBadRequest, "unknown_provider"
	case errors.Is(err, bridge.ErrNoCallerID):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrAlreadyExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, bridge.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrVersionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, provider.ErrCapabilityNotAvailable):
		return http.StatusUnprocessableEntity, "capability_not_available"
	case errors.Is(err, provider.ErrUnsupportedControl):
		return http.StatusUnprocessableEntity, "unsupported_control"
	case errors.Is(err, bridge.ErrCapacity):
		return http.StatusTooManyRequests, "capacity"
	case errors.Is(err, provider.ErrRejected):
		return http.StatusBadGateway, "provider_rejected"
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case isTimeout(err):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// badRequest reports input failures (malformed JSON, missing fields) that
// never reach a service.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation_failed"})
}
