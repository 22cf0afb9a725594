// internal/viewer/routes/helpers.go

package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/signaling"
)

// statusFor maps registry errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, call.ErrCallActive), errors.Is(err, call.ErrIncomingPending):
		return http.StatusConflict
	case errors.Is(err, call.ErrNoActiveCall), errors.Is(err, call.ErrNoIncomingCall),
		errors.Is(err, signaling.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, call.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, signaling.ErrInvalidRecord):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// queryInt returns the integer query parameter key, or def when it is absent
// or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
