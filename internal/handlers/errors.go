package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"rental-settlement/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/tools/router"
)

// apiError maps service errors to PocketBase API errors. Unknown errors are logged and
// reported without detail.
func apiError(err error) *router.ApiError {
	msg := status.Public(err)
	switch {
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError(msg, nil)
	case errors.Is(err, status.ErrUnauthorized):
		return apis.NewForbiddenError(msg, nil)
	case errors.Is(err, status.ErrInvalidTransition), errors.Is(err, status.ErrInvalidInput):
		return apis.NewBadRequestError(msg, nil)
	case errors.Is(err, status.ErrDeadlineExpired):
		return apis.NewApiError(http.StatusUnprocessableEntity, msg, nil)
	case errors.Is(err, status.ErrConflict):
		return apis.NewApiError(http.StatusConflict, msg, nil)
	case errors.Is(err, status.ErrPaymentGateway):
		return apis.NewApiError(http.StatusBadGateway, msg, nil)
	}
	slog.Error("Unhandled request error", "error", err)
	return apis.NewInternalServerError(msg, nil)
}
