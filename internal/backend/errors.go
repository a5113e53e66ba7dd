package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// UnknownError is the message used when a failed response carries nothing readable.
const UnknownError = "Unknown Error"

var (
	// ErrUnauthorized matches any APIError with status 401.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrPaymentRequired matches any APIError with status 402.
	ErrPaymentRequired = errors.New("backend: payment required")
	// ErrNotFound matches any APIError with status 404.
	ErrNotFound = errors.New("backend: not found")
)

// APIError is returned when the backend responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrPaymentRequired:
		return e.Status == http.StatusPaymentRequired
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Message returns the best user-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return UnknownError
}

// StatusCode returns the backend status carried by err, or fallback.
func StatusCode(err error, fallback int) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		return apiErr.Status
	}
	return fallback
}

// parseError builds an APIError from a failed response body. The backend
// reports errors under "error", "detail" or "message", and field validation
// errors as {"field": ["msg", ...]}.
func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: UnknownError}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	if raw, ok := payload["code"]; ok {
		var code string
		if json.Unmarshal(raw, &code) == nil {
			apiErr.Code = code
		}
	}
	for _, key := range []string{"error", "detail", "message"} {
		if msg := stringOrFirst(payload[key]); msg != "" {
			apiErr.Message = msg
			return apiErr
		}
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "code" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := stringOrFirst(payload[k]); msg != "" {
			apiErr.Message = msg
			return apiErr
		}
	}
	return apiErr
}

func stringOrFirst(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
