package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// Error kinds rendered in the error envelope.
const (
	kindBadRequest = "bad_request"
	kindForbidden  = "forbidden"
	kindNotFound   = "not_found"
	kindInternal   = "internal_server_error"
)

// BadRequestError marks a request the caller must correct. It renders as a
// 400 response, or as a failed entry that turns a bulk response into a 400.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource using the class name callers know.
type NotFoundError struct {
	Klass string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Couldn't find %s with 'id'=%s", e.Klass, e.ID)
}

// Unwrap lets callers match inventory.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return inventory.ErrNotFound
}

// notFound converts a store miss into a NotFoundError and passes other
// errors through.
func notFound(err error, klass, id string) error {
	var missing *NotFoundError
	if errors.As(err, &missing) {
		return err
	}
	if errors.Is(err, inventory.ErrNotFound) {
		return &NotFoundError{Klass: klass, ID: id}
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

// writeErr classifies err into the matching status and error envelope.
func writeErr(w http.ResponseWriter, err error) {
	var bad *BadRequestError
	var missing *NotFoundError
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, kindBadRequest, bad.Message)
	case errors.As(err, &missing):
		writeError(w, http.StatusNotFound, kindNotFound, missing.Error())
	default:
		writeError(w, http.StatusInternalServerError, kindInternal, err.Error())
	}
}
