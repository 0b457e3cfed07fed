package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/burnweek/camp-registration-system/middleware"
	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/services"
)

type RegistrationHandler struct {
	admissionService *services.AdmissionService
	paymentService   *services.PaymentService
}

func NewRegistrationHandler(admissionService *services.AdmissionService, paymentService *services.PaymentService) *RegistrationHandler {
	return &RegistrationHandler{
		admissionService: admissionService,
		paymentService:   paymentService,
	}
}

// Create godoc
// @Summary Register for a season
// @Tags registrations
// @Description Admits the authenticated participant into a season with the requested jobs, shifts and camping options. One active registration per participant per season.
// @Accept json
// @Produce json
// @Param body body services.CreateRegistrationInput true "Season and resource selections"
// @Success 201 {object} map[string]interface{} "Registration created"
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "Requested resource not found"
// @Failure 409 {object} map[string]string "Duplicate registration or full resource"
// @Security BearerAuth
// @Router /registrations [post]
func (h *RegistrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	currentUserID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.CreateRegistrationInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.ParticipantID = currentUserID

	reg, err := h.admissionService.Create(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"registration": reg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Get godoc
// @Summary Get a registration by id
// @Tags registrations
// @Produce json
// @Param registrationID path int true "Registration ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string "Not found"
// @Security BearerAuth
// @Router /registrations/{registrationID} [get]
func (h *RegistrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := h.admissionService.GetByID(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// Participants only see their own registrations.
	role, _ := middleware.GetUserRoleFromContext(r.Context())
	if role != models.RoleAdmin {
		currentUserID, err := middleware.GetUserIDFromContext(r.Context())
		if err != nil || reg.ParticipantID != currentUserID {
			notFoundResponse(w, r)
			return
		}
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registration": reg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// List godoc
// @Summary List registrations
// @Tags registrations
// @Produce json
// @Param participant_id query int false "Filter by participant"
// @Param season query int false "Filter by season"
// @Param status query string false "Filter by status"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /registrations [get]
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := registrationFilterFromQuery(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	// Non-admins are pinned to their own registrations regardless of the
	// requested filter.
	role, _ := middleware.GetUserRoleFromContext(r.Context())
	if role != models.RoleAdmin {
		currentUserID, err := middleware.GetUserIDFromContext(r.Context())
		if err != nil {
			unauthorizedResponse(w, r, "authentication required")
			return
		}
		filter.ParticipantID = &currentUserID
	}

	regs, err := h.admissionService.List(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"registrations": regs}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// InitiateCheckout godoc
// @Summary Start a dues payment for a registration
// @Tags payments
// @Accept json
// @Produce json
// @Param registrationID path int true "Registration ID"
// @Param body body services.CheckoutInput true "Amount in minor units and ISO 4217 currency"
// @Success 201 {object} map[string]interface{} "Pending payment and checkout URL"
// @Failure 404 {object} map[string]string "Registration not found"
// @Failure 409 {object} map[string]string "Registration is cancelled"
// @Failure 502 {object} map[string]string "Payment provider failure"
// @Security BearerAuth
// @Router /registrations/{registrationID}/payment [post]
func (h *RegistrationHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "registrationID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.CheckoutInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.RegistrationID = id

	out, err := h.paymentService.InitiateCheckout(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{
		"payment":      out.Payment,
		"checkout_url": out.CheckoutURL,
	}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func registrationFilterFromQuery(r *http.Request) (models.RegistrationFilter, error) {
	var filter models.RegistrationFilter
	q := r.URL.Query()

	if raw := q.Get("participant_id"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid participant_id: %q", raw)
		}
		filter.ParticipantID = &v
	}
	if raw := q.Get("season"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid season: %q", raw)
		}
		filter.Season = &v
	}
	if raw := q.Get("status"); raw != "" {
		status := models.RegistrationStatus(raw)
		if !status.Valid() {
			return filter, fmt.Errorf("invalid status: %q", raw)
		}
		filter.Status = &status
	}
	return filter, nil
}

func getIDFromURL(r *http.Request, paramName string) (int, error) {
	idStr := chi.URLParam(r, paramName)
	if idStr == "" {
		idStr = chi.URLParam(r, "id")
		if idStr == "" {
			return 0, fmt.Errorf("missing %s or id in URL path", paramName)
		}
	}

	id, err := strconv.Atoi(idStr)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s format: %q", paramName, idStr)
	}
	return id, nil
}
