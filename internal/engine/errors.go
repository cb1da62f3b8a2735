package engine

import (
	"errors"
	"fmt"

	"keysync-backend/internal/metadata"
	"keysync-backend/internal/store"
)

type AppError struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", entity, id),
	}
}

// ToAppError translates domain and store failures into the error shape
// returned to RPC callers. Anything unrecognized stays an opaque
// internal error so no storage detail leaks.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var missing *metadata.MissingAttributeError
	if errors.As(err, &missing) {
		return &AppError{Code: "MISSING_ATTRIBUTE", Status: 422, Message: missing.Error()}
	}
	var pattern *metadata.InvalidPatternError
	if errors.As(err, &pattern) {
		return &AppError{Code: "INVALID_PATTERN", Status: 422, Message: pattern.Error()}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &AppError{Code: "NOT_FOUND", Status: 404, Message: "not found"}
	}
	return nil
}
