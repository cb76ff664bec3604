package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches any HTTPError with status 404.
var ErrNotFound = errors.New("api: not found")

// HTTPError is a non-2xx response from the Task API.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Detail)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// errorFromResponse builds an HTTPError, preferring the JSON "detail" or
// "message" field, then the raw body, then the status text.
func errorFromResponse(status int, contentType string, body []byte) *HTTPError {
	detail := fmt.Sprintf("%d %s", status, http.StatusText(status))
	text := strings.TrimSpace(string(body))

	if strings.Contains(contentType, "application/json") {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(body, &m); err == nil {
			for _, key := range []string{"detail", "message"} {
				raw, ok := m[key]
				if !ok || string(raw) == "null" {
					continue
				}
				var s string
				if json.Unmarshal(raw, &s) == nil {
					detail = s
				} else {
					// FastAPI validation errors come as a list.
					detail = string(raw)
				}
				return &HTTPError{Status: status, Detail: detail}
			}
		}
		return &HTTPError{Status: status, Detail: detail}
	}
	if text != "" {
		detail = text
	}
	return &HTTPError{Status: status, Detail: detail}
}
