package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burnweek/camp-registration-system/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    models.RegistrationStatus
		to      models.RegistrationStatus
		allowed bool
	}{
		{"pending to confirmed", models.RegistrationStatusPending, models.RegistrationStatusConfirmed, true},
		{"pending to cancelled", models.RegistrationStatusPending, models.RegistrationStatusCancelled, true},
		{"pending to waitlisted", models.RegistrationStatusPending, models.RegistrationStatusWaitlisted, false},
		{"waitlisted to pending", models.RegistrationStatusWaitlisted, models.RegistrationStatusPending, true},
		{"waitlisted to confirmed", models.RegistrationStatusWaitlisted, models.RegistrationStatusConfirmed, true},
		{"waitlisted to cancelled", models.RegistrationStatusWaitlisted, models.RegistrationStatusCancelled, true},
		{"confirmed to cancelled", models.RegistrationStatusConfirmed, models.RegistrationStatusCancelled, true},
		{"confirmed to pending", models.RegistrationStatusConfirmed, models.RegistrationStatusPending, false},
		{"confirmed to waitlisted", models.RegistrationStatusConfirmed, models.RegistrationStatusWaitlisted, false},
		{"cancelled to pending", models.RegistrationStatusCancelled, models.RegistrationStatusPending, false},
		{"cancelled to confirmed", models.RegistrationStatusCancelled, models.RegistrationStatusConfirmed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	t.Run("cancelled source is terminal", func(t *testing.T) {
		err := ValidateTransition(models.RegistrationStatusCancelled, models.RegistrationStatusPending)
		require.ErrorIs(t, err, ErrRegistrationCancelled)
	})

	t.Run("disallowed move", func(t *testing.T) {
		err := ValidateTransition(models.RegistrationStatusConfirmed, models.RegistrationStatusPending)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown target status", func(t *testing.T) {
		err := ValidateTransition(models.RegistrationStatusPending, models.RegistrationStatus("archived"))
		require.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("allowed move", func(t *testing.T) {
		require.NoError(t, ValidateTransition(models.RegistrationStatusPending, models.RegistrationStatusConfirmed))
	})
}
