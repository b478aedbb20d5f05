package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 256

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// mapStatusError turns a vendor HTTP status into the typed taxonomy:
// 5xx means the vendor is down (retryable upstream), anything else in the
// error range means it rejected us.
func mapStatusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if code >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, msg)
	}
	return fmt.Errorf("%w: status %d: %s", ErrRejected, code, msg)
}
