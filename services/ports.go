package services

import (
	"context"
	"log/slog"

	"github.com/burnweek/camp-registration-system/models"
)

// Broadcaster pushes registration lifecycle events to live dashboards.
// Implemented by live.Hub; nil-safe wrappers below let services run without
// one (tests, CLI tools).
type Broadcaster interface {
	RegistrationEvent(eventType string, reg *models.Registration)
}

func broadcast(b Broadcaster, eventType string, reg *models.Registration) {
	if b != nil {
		b.RegistrationEvent(eventType, reg)
	}
}

type NotificationKind string

const (
	NotificationRegistrationCreated   NotificationKind = "registration_created"
	NotificationRegistrationConfirmed NotificationKind = "registration_confirmed"
	NotificationRegistrationUpdated   NotificationKind = "registration_updated"
	NotificationRegistrationCancelled NotificationKind = "registration_cancelled"
	NotificationWaitlistPromoted      NotificationKind = "waitlist_promoted"
)

// Notifier is the notification dispatcher port. Delivery is fire-and-forget:
// failures are logged by the implementation and never propagate to the
// operation that triggered them.
type Notifier interface {
	Notify(ctx context.Context, participantID int, kind NotificationKind, payload map[string]string) error
}

// notify sends on its own goroutine with a detached context so the request
// that triggered it can return. A nil notifier is a no-op; failures are
// logged, never returned.
func notify(ctx context.Context, n Notifier, logger *slog.Logger, participantID int, kind NotificationKind, payload map[string]string) {
	if n == nil {
		return
	}
	go func() {
		ctx := context.WithoutCancel(ctx)
		if err := n.Notify(ctx, participantID, kind, payload); err != nil {
			logger.ErrorContext(ctx, "failed to send notification",
				slog.Int("participant_id", participantID),
				slog.String("kind", string(kind)),
				slog.Any("error", err),
			)
		}
	}()
}
