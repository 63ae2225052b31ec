package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dontpanicw/ProductImages/internal/domain"
)

// statusClientClosedRequest is reported when the client went away before the
// response was ready.
const statusClientClosedRequest = 499

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFromError maps a domain error kind to the response status and the
// message shown to the client. Internal causes are not exposed for 5xx.
func statusFromError(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "Request timed out"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "Request cancelled"
	case errors.Is(err, domain.ErrRender):
		return http.StatusInternalServerError, "Failed to watermark images"
	case errors.Is(err, domain.ErrUpload):
		return http.StatusInternalServerError, "Failed to upload images"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, "Failed to save product images"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, "Not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
