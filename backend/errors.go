package backend

import (
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

// APIError is a non-2xx answer from the backend. Message carries the
// backend's own text so forms can show it verbatim.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case fasthttp.StatusUnauthorized:
		return types.ErrBackendUnauthorized
	case fasthttp.StatusNotFound:
		return types.ErrBackendNotFound
	default:
		return types.ErrClientResponseInvalid
	}
}

type errorBody struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Errors  map[string]interface{} `json:"errors"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var parsed errorBody
	if len(body) > 0 && utils.Unmarshal(body, &parsed) == nil {
		apiErr.Message = utils.FirstNonEmpty(parsed.Message, parsed.Error)
		apiErr.Fields = flattenFieldErrors(parsed.Errors)
	}

	if apiErr.Message == "" {
		apiErr.Message = fasthttp.StatusMessage(status)
	}

	return apiErr
}

// flattenFieldErrors accepts both {"field": "msg"} and {"field": ["msg", ...]}.
func flattenFieldErrors(raw map[string]interface{}) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	fields := make(map[string]string, len(raw))
	for field, value := range raw {
		switch v := value.(type) {
		case string:
			fields[field] = v
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			fields[field] = strings.Join(parts, "; ")
		}
	}

	return fields
}

// IsUnauthorized reports whether err means the admin token is no longer
// accepted.
func IsUnauthorized(err error) bool {
	return types.IsError(err, types.ErrBackendUnauthorized)
}
