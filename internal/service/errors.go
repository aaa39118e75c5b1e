package service

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrEmailTaken            = errors.New("email already registered")
	ErrUsernameTaken         = errors.New("username already taken")
	ErrSessionConflict       = errors.New("could not allocate a unique session token")
	ErrOTPNotFound           = errors.New("no OTP found for this email, request a new one")
	ErrOTPExpired            = errors.New("OTP has expired, request a new one")
	ErrOTPMismatch           = errors.New("incorrect OTP")
	ErrRegistrationExpired   = errors.New("registration has expired, please register again")
	ErrNoPendingRegistration = errors.New("no pending registration for this email")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrDelivery              = errors.New("failed to send OTP email")
	ErrConfiguration         = errors.New("server is misconfigured")
	ErrUserNotFound          = errors.New("user not found")
	ErrNoteNotFound          = errors.New("note not found")
)

// ValidationError reports which request fields were rejected. It matches
// ErrValidation with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// validate runs v's rules and converts field failures into a ValidationError.
func validate(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for name, fe := range errs {
		fields[name] = fe.Error()
	}
	return &ValidationError{Fields: fields}
}
