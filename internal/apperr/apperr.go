// Package apperr classifies the service's errors for transport layers.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrConflict          = errors.New("conflict")
	ErrNoMealSlot        = errors.New("no meal slot available now")
	ErrValidation        = errors.New("validation failed")
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"

	case errors.Is(err, ErrConflict):
		return "conflict"

	case errors.Is(err, ErrNoMealSlot):
		return "no_meal_slot"

	case errors.Is(err, ErrValidation):
		return "validation"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "illegal_transition", "conflict", "no_meal_slot":
		return http.StatusConflict
	case "forbidden":
		return http.StatusForbidden
	case "invalid_token":
		return http.StatusUnauthorized
	case "validation", "canceled":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
