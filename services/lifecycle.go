package services

import "github.com/burnweek/camp-registration-system/models"

// allowedTransitions is the full lifecycle of a registration row. Cancelled
// is terminal: a cancelled row never moves again, a fresh admission creates a
// new row.
var allowedTransitions = map[models.RegistrationStatus][]models.RegistrationStatus{
	models.RegistrationStatusPending: {
		models.RegistrationStatusConfirmed,
		models.RegistrationStatusCancelled,
	},
	models.RegistrationStatusWaitlisted: {
		models.RegistrationStatusPending,
		models.RegistrationStatusConfirmed,
		models.RegistrationStatusCancelled,
	},
	models.RegistrationStatusConfirmed: {
		models.RegistrationStatusCancelled,
	},
	models.RegistrationStatusCancelled: {},
}

func CanTransition(current, next models.RegistrationStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

// ValidateTransition returns the service error for an illegal move. Admin
// "forced" transitions go through this as well; force means skipping payment
// preconditions, not skipping the state machine.
func ValidateTransition(current, next models.RegistrationStatus) error {
	if !next.Valid() {
		return ErrValidationFailed
	}
	if current == models.RegistrationStatusCancelled {
		return ErrRegistrationCancelled
	}
	if !CanTransition(current, next) {
		return ErrInvalidTransition
	}
	return nil
}
