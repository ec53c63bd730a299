package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error kinds shared by the credential store, session manager, setup gate
// and the access engine. Callers match them with errors.Is.
var (
	ErrAuthFailure        = errors.New("invalid username or password")
	ErrAccountDisabled    = fmt.Errorf("%w: account is disabled", ErrAuthFailure)
	ErrInvalidCredentials = errors.New("current password is incorrect")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("access denied")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrAlreadySetUp       = errors.New("setup already completed")
	ErrUnavailable        = errors.New("service unavailable")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
)

// Unavailable wraps an infrastructure failure so it can never be mistaken
// for a denial.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// HTTPError translates an error kind into the echo error returned to the
// client. Infrastructure and unknown errors are reported generically and keep
// the cause as the internal error for the logger.
func HTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, ErrAccountDisabled):
		return echo.NewHTTPError(http.StatusForbidden, "account is disabled")
	case errors.Is(err, ErrAuthFailure):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrAuthFailure.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, ErrUnauthenticated.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateUsername):
		return echo.NewHTTPError(http.StatusConflict, ErrDuplicateUsername.Error())
	case errors.Is(err, ErrAlreadySetUp):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadySetUp.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrUnavailable.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
