package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/lppm-portal/kkn-api/internal/registration"
)

// apiError converts a registration error into the matching huma status error.
func apiError(ctx context.Context, err error) error {
	var verr *registration.ValidationError
	switch {
	case errors.As(err, &verr):
		return huma.Error422UnprocessableEntity("Validation failed", &huma.ErrorDetail{
			Message:  verr.Message,
			Location: "body." + verr.Field,
		})
	case errors.Is(err, registration.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, registration.ErrConflict):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, registration.ErrForbidden):
		return huma.Error403Forbidden(err.Error())
	case errors.Is(err, registration.ErrValidation):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	slog.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
	return huma.Error500InternalServerError("Internal server error")
}
