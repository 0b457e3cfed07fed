package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is bound to one registration at creation and never repointed.
// Amounts are integer minor units (cents) to avoid float money arithmetic.
type Payment struct {
	ID             int           `json:"id"`
	ParticipantID  int           `json:"participant_id"`
	RegistrationID int           `json:"registration_id"`
	AmountMinor    int64         `json:"amount_minor"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	Provider       string        `json:"provider"`
	ProviderRef    string        `json:"provider_ref"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
