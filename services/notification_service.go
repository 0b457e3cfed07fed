package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/burnweek/camp-registration-system/config"
	"github.com/burnweek/camp-registration-system/repositories"
)

// EmailNotifier delivers lifecycle notifications over SMTP. It resolves the
// participant's address through the user repository and renders a short HTML
// body per notification kind.
type EmailNotifier struct {
	cfg      *config.Config
	userRepo repositories.UserRepository
	logger   *slog.Logger
}

func NewEmailNotifier(cfg *config.Config, userRepo repositories.UserRepository, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, userRepo: userRepo, logger: logger}
}

func (n *EmailNotifier) Notify(ctx context.Context, participantID int, kind NotificationKind, payload map[string]string) error {
	if n.cfg.SMTPHost == "" {
		// SMTP not configured, e.g. local development.
		return nil
	}

	user, err := n.userRepo.GetByID(ctx, participantID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification recipient: %w", err)
	}

	subject, body := renderNotification(kind, payload)
	if subject == "" {
		return fmt.Errorf("unknown notification kind %q", kind)
	}

	n.logger.InfoContext(ctx, "sending notification email",
		slog.Int("participant_id", participantID),
		slog.String("kind", string(kind)),
	)
	return n.sendEmail([]string{user.Email}, subject, body)
}

func renderNotification(kind NotificationKind, payload map[string]string) (subject, body string) {
	season := payload["season"]
	switch kind {
	case NotificationRegistrationCreated:
		return fmt.Sprintf("Your %s registration was received", season),
			fmt.Sprintf("<p>We received your registration for the %s season. It stays pending until your dues are paid.</p>", season)
	case NotificationRegistrationConfirmed:
		return fmt.Sprintf("You're in for %s!", season),
			fmt.Sprintf("<p>Your dues are paid and your registration for the %s season is confirmed. See you out there.</p>", season)
	case NotificationRegistrationUpdated:
		return fmt.Sprintf("Your %s registration was updated", season),
			fmt.Sprintf("<p>An organizer updated your registration for the %s season. Current status: %s.</p>", season, payload["status"])
	case NotificationRegistrationCancelled:
		body := fmt.Sprintf("<p>Your registration for the %s season was cancelled.</p>", season)
		if reason := payload["reason"]; reason != "" {
			body += fmt.Sprintf("<p>Reason: %s</p>", reason)
		}
		return fmt.Sprintf("Your %s registration was cancelled", season), body
	case NotificationWaitlistPromoted:
		return fmt.Sprintf("A spot opened up for %s", season),
			fmt.Sprintf("<p>A spot opened up and your waitlisted registration for the %s season moved to pending. Pay your dues to confirm it.</p>", season)
	default:
		return "", ""
	}
}

func (n *EmailNotifier) sendEmail(to []string, subject, body string) error {
	auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)

	msg := []byte("To: " + to[0] + "\r\n" +
		"From: " + n.cfg.SMTPFrom + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\r\n" +
		"\r\n" +
		body + "\r\n")

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	tlsconfig := &tls.Config{
		ServerName: n.cfg.SMTPHost,
	}

	var client *smtp.Client
	if n.cfg.SMTPPort == 465 {
		// Implicit TLS.
		conn, err := tls.Dial("tcp", addr, tlsconfig)
		if err != nil {
			return fmt.Errorf("smtp tls dial failed: %w", err)
		}
		defer conn.Close()
		client, err = smtp.NewClient(conn, n.cfg.SMTPHost)
		if err != nil {
			return fmt.Errorf("smtp client creation failed: %w", err)
		}
	} else {
		// STARTTLS, usually port 587.
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial failed: %w", err)
		}
		client = c
		if err = client.StartTLS(tlsconfig); err != nil {
			client.Close()
			return fmt.Errorf("smtp STARTTLS failed: %w", err)
		}
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp authentication failed: %w", err)
	}
	if err := client.Mail(n.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("smtp message write failed: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("smtp DATA close failed: %w", err)
	}
	return nil
}
