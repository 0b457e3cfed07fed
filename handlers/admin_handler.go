package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/burnweek/camp-registration-system/middleware"
	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/services"
)

type AdminHandler struct {
	adminService  *services.AdminService
	reportService *services.ReportService
}

func NewAdminHandler(adminService *services.AdminService, reportService *services.ReportService) *AdminHandler {
	return &AdminHandler{
		adminService:  adminService,
		reportService: reportService,
	}
}

// EditRegistration godoc
// @Summary Edit a registration
// @Tags admin
// @Description Forces a status transition and/or replaces resource selections. Added resources re-run capacity checks and fail with 409 when full; the registration is left unchanged. Appends an audit entry.
// @Accept json
// @Produce json
// @Param registrationID path int true "Registration ID"
// @Param body body services.EditRegistrationInput true "Edit"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Not found"
// @Failure 409 {object} map[string]string "Invalid transition, stale status or full resource"
// @Security BearerAuth
// @Router /admin/registrations/{registrationID} [patch]
func (h *AdminHandler) EditRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actorID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.EditRegistrationInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Status != nil && !input.Status.Valid() {
		badRequestResponse(w, r, fmt.Errorf("invalid status: %q", *input.Status))
		return
	}

	reg, err := h.adminService.Edit(r.Context(), actorID, id, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registration": reg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CancelRegistration godoc
// @Summary Cancel a registration
// @Tags admin
// @Description Cancels a registration, frees its slots, promotes from the waitlist and optionally initiates refunds. Cancelling an already cancelled registration is a no-op. Refund failures are reported in refund_errors; the cancellation stands.
// @Accept json
// @Produce json
// @Param registrationID path int true "Registration ID"
// @Param body body services.CancelRegistrationInput true "Cancellation"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Not found"
// @Security BearerAuth
// @Router /admin/registrations/{registrationID}/cancel [post]
func (h *AdminHandler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actorID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.CancelRegistrationInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.adminService.Cancel(r.Context(), actorID, id, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"registration": result.Registration}
	if len(result.RefundErrors) > 0 {
		response["refund_errors"] = result.RefundErrors
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// QueryAudit godoc
// @Summary Query the audit trail
// @Tags admin
// @Produce json
// @Param registration_id query int false "Filter by registration"
// @Param actor_id query int false "Filter by acting admin"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param limit query int false "Max entries"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/audit [get]
func (h *AdminHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	entries, err := h.adminService.QueryAudit(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"entries": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ExportRoster godoc
// @Summary Export season roster and audit reports
// @Tags admin
// @Description Builds CSV reports for the season and uploads them to object storage.
// @Accept json
// @Produce json
// @Success 201 {object} map[string]interface{} "Report URLs"
// @Security BearerAuth
// @Router /admin/reports/roster [post]
func (h *AdminHandler) ExportRoster(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Season int `json:"season"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Season <= 0 {
		badRequestResponse(w, r, errors.New("season is required"))
		return
	}

	export, err := h.reportService.ExportSeason(r.Context(), input.Season)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"export": export}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func auditFilterFromQuery(r *http.Request) (models.AuditFilter, error) {
	var filter models.AuditFilter
	q := r.URL.Query()

	if raw := q.Get("registration_id"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid registration_id: %q", raw)
		}
		filter.RegistrationID = &v
	}
	if raw := q.Get("actor_id"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid actor_id: %q", raw)
		}
		filter.ActorID = &v
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp: %q", raw)
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp: %q", raw)
		}
		filter.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, fmt.Errorf("invalid limit: %q", raw)
		}
		filter.Limit = v
	}
	return filter, nil
}
