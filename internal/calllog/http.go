package calllog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPRecorder posts completion records to a downstream collector (CRM,
// billing). The receiver is expected to dedupe on session_id; this side
// only guarantees at-least-once.
type HTTPRecorder struct {
	url       string
	authToken string
	hc        *http.Client
}

func NewHTTPRecorder(url, authToken string, timeout time.Duration) *HTTPRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRecorder{
		url:       url,
		authToken: authToken,
		hc:        &http.Client{Timeout: timeout},
	}
}

func (h *HTTPRecorder) Record(ctx context.Context, rec CallRecord) error {
	return h.post(ctx, h.url, rec)
}

func (h *HTTPRecorder) AttachRecording(ctx context.Context, sessionID, url string) error {
	payload := struct {
		SessionID    string `json:"session_id"`
		RecordingURL string `json:"recording_url"`
	}{SessionID: sessionID, RecordingURL: url}
	return h.post(ctx, h.url+"/recordings", payload)
}

func (h *HTTPRecorder) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("calllog: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("calllog: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.hc.Do(req)
	if err != nil {
		return fmt.Errorf("calllog: deliver: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("calllog: collector answered %d", resp.StatusCode)
	}
	return nil
}
