package app

import "errors"

var (
	// ErrInvalidCredentials is shown to end users and must not reveal whether
	// the email exists.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrUnauthorized             = errors.New("unauthorized")

	ErrNameRequired            = errors.New("name required")
	ErrInvalidWateringInterval = errors.New("wateringInterval must be at least 1")
	ErrWateringDateRequired    = errors.New("wateringDate required")
	ErrNotAnImage              = errors.New("Not an image")
	ErrNothingToUpdate         = errors.New("nothing to update")

	ErrPlantNotFound    = errors.New("plant not found")
	ErrWateringNotFound = errors.New("watering not found")
	ErrImageNotFound    = errors.New("plant has no image")
)

// ValidationError marks a rejected request payload.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
