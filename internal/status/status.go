package status

import "errors"

var (
	ErrNotFound          = errors.New("store: record not found")
	ErrUnauthorized      = errors.New("reservation: actor not allowed to perform this action")
	ErrInvalidTransition = errors.New("reservation: transition not allowed from current status")
	ErrDeadlineExpired   = errors.New("reservation: deadline expired")
	ErrConflict          = errors.New("store: concurrent modification, reload and retry")
	ErrPaymentGateway    = errors.New("payment: gateway error")
	ErrInvalidInput      = errors.New("request: invalid input")
)

// Public returns the user facing message for err: the outermost wrapped context for known
// failures, a generic text for everything else.
func Public(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrDeadlineExpired),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrPaymentGateway),
		errors.Is(err, ErrInvalidInput):
		return err.Error()
	}
	return "internal error"
}
