package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/burnweek/camp-registration-system/services"
)

type WebhookHandler struct {
	paymentService *services.PaymentService
	logger         *slog.Logger
}

func NewWebhookHandler(paymentService *services.PaymentService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{paymentService: paymentService, logger: logger}
}

// HandleProviderEvent godoc
// @Summary Payment provider webhook
// @Tags payments
// @Description Accepts asynchronous payment events. Well-formed events are always acknowledged with 200: redelivery of the same event is a no-op, and processing failures are retried by the provider.
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Acknowledged"
// @Failure 400 {object} map[string]string "Malformed event"
// @Router /payments/webhook [post]
func (h *WebhookHandler) HandleProviderEvent(w http.ResponseWriter, r *http.Request) {
	var event services.ProviderEvent
	if err := readJSON(w, r, &event); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if event.Type == "" || event.ProviderRef == "" {
		badRequestResponse(w, r, errors.New("type and provider_ref are required"))
		return
	}

	if err := h.paymentService.HandleProviderEvent(r.Context(), event); err != nil {
		// Acknowledge anyway. The provider redelivers, and event application
		// is idempotent, so logging is the only thing left to do here.
		h.logger.ErrorContext(r.Context(), "provider event processing failed",
			slog.String("type", event.Type),
			slog.String("provider_ref", event.ProviderRef),
			slog.Any("error", err),
		)
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"status": "received"}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
