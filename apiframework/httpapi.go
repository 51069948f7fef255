package apiframework

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/contenox/agentplan/libtracker"
)

// Encode writes v as JSON with the given status code.
func Encode[T any](w http.ResponseWriter, r *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Decode parses the request body into T. An empty body yields
// ErrEmptyRequestBody, malformed JSON yields ErrUnprocessableEntity.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, ErrEmptyRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %s", ErrUnprocessableEntity, err.Error())
	}
	return v, nil
}

// wireError is the OpenAI-style envelope written by Error.
type wireError struct {
	Error wireErrorBody `json:"error"`
}

type wireErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

// Error maps err to an HTTP status and writes the JSON error envelope.
// The operation hints the fallback status when the error is not recognized.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	var apiErr *APIError
	if cast, ok := err.(*APIError); ok {
		apiErr = cast
	} else {
		apiErr = NewAPIError(err, "", "")
	}

	errorType := apiErr.errorType
	errorCode := apiErr.errorCode
	if errorType == "" || errorCode == "" {
		errorType, errorCode = getErrorTypeAndCode(status)
	}

	var param *string
	if apiErr.param != "" {
		p := apiErr.param
		param = &p
	}

	requestID, _ := r.Context().Value(libtracker.ContextKeyRequestID).(string)
	slog.DebugContext(r.Context(), "request failed",
		"status", status,
		"error", err.Error(),
		"request_id", requestID,
	)

	return Encode(w, r, status, wireError{Error: wireErrorBody{
		Message: apiErr.message,
		Type:    errorType,
		Param:   param,
		Code:    errorCode,
	}})
}

// GetPathParam reads a path wildcard value. The description parameter
// documents the API surface for route scanners and is unused at runtime.
func GetPathParam(r *http.Request, name string, description string) string {
	_ = description
	return r.PathValue(name)
}

// GetQueryParam reads a query parameter, falling back to defaultValue when
// absent.
func GetQueryParam(r *http.Request, name, defaultValue string, description string) string {
	_ = description
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultValue
	}
	return v
}
