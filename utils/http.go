package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/upb/navigator-auth/authn"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Access forbidden"
	}
	return WriteJSON(w, http.StatusForbidden, ErrorResponse{
		Error:   "forbidden",
		Message: message,
	})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: message,
	})
}

// WriteAuthError renders a classified authentication failure with the
// status of its kind. Only the public message reaches the client.
func WriteAuthError(w http.ResponseWriter, err error) error {
	var ae *authn.Error
	if !errors.As(err, &ae) {
		return WriteInternalServerError(w, "")
	}
	return WriteAuthErrorWithStatus(w, ae.Kind.HTTPStatus(), ae)
}

// WriteAuthErrorWithStatus renders err with a fixed status, keeping the kind
// as the error code.
func WriteAuthErrorWithStatus(w http.ResponseWriter, status int, err error) error {
	kind := authn.KindOf(err)
	message := "Internal server error"
	var ae *authn.Error
	if errors.As(err, &ae) {
		message = ae.PublicMessage()
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   string(kind),
		Message: message,
	})
}
