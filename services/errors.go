package services

import "errors"

// Errors shared across services and the HTTP error mapping.
var (
	// Validation
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidSeason    = errors.New("season must be a valid year")
	ErrPasswordTooShort = errors.New("password is too short")

	// Not found
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrResourceNotFound     = errors.New("requested resource not found")
	ErrPaymentNotFound      = errors.New("payment not found")

	// Conflicts. Duplicate registration and full resource are distinct so
	// callers can branch (offer a waitlist vs. point at the existing
	// registration).
	ErrDuplicateRegistration = errors.New("participant already has an active registration for this season")
	ErrResourceFull          = errors.New("resource has no free slots")
	ErrStaleStatus           = errors.New("registration was modified concurrently, reload and retry")
	ErrInvalidTransition     = errors.New("invalid registration status transition")
	ErrRegistrationCancelled = errors.New("registration is cancelled; create a new registration instead")
	ErrResourceDisabled      = errors.New("requested resource is not open for registration")

	// External collaborators
	ErrPaymentProvider = errors.New("payment provider request failed")

	// Authentication
	ErrAuthInvalidCredentials = errors.New("invalid email or password")
	ErrAuthEmailTaken         = errors.New("email is already taken")
)
