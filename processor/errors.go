package processor

import (
	"context"
	"errors"

	"ofiflow/models"
)

var (
	ErrInvalidConfiguration = models.ErrInvalidConfiguration
	ErrEmptyInput           = models.ErrEmptyInput
	ErrDivisionByZero       = models.ErrDivisionByZero
)

// ErrorKind maps err onto a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
