package auth

import "errors"

var (
	ErrBadRequest         = errors.New("bad request")
	ErrOTPNotFound        = errors.New("otp not found")
	ErrOTPInvalid         = errors.New("otp invalid")
	ErrOTPExpired         = errors.New("otp expired")
	ErrRateLimited        = errors.New("rate limited")
	ErrSendFailed         = errors.New("send failed")
	ErrProvisioningFailed = errors.New("provisioning failed")
	ErrSignInFailed       = errors.New("sign in failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDemoDisabled       = errors.New("demo login disabled")
	ErrUnexpected         = errors.New("unexpected error")
)

// Error classifies a failure by one of the sentinel kinds above and keeps the
// underlying cause for logging and provider messages.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return e.Kind == target }

func wrap(kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Cause returns the underlying error message, or the kind when there is none.
func Cause(err error) string {
	var aerr *Error
	if errors.As(err, &aerr) && aerr.Err != nil {
		return aerr.Err.Error()
	}
	return err.Error()
}
