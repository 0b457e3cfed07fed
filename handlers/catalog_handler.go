package handlers

import (
	"net/http"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/repositories"
)

type CatalogHandler struct {
	catalogRepo repositories.CatalogRepository
}

func NewCatalogHandler(catalogRepo repositories.CatalogRepository) *CatalogHandler {
	return &CatalogHandler{catalogRepo: catalogRepo}
}

// ListJobs godoc
// @Summary List volunteer jobs
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /catalog/jobs [get]
func (h *CatalogHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.listByKind(w, r, models.ResourceKindJob)
}

// ListShifts godoc
// @Summary List work shifts
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /catalog/shifts [get]
func (h *CatalogHandler) ListShifts(w http.ResponseWriter, r *http.Request) {
	h.listByKind(w, r, models.ResourceKindShift)
}

// ListCampingOptions godoc
// @Summary List camping add-ons
// @Tags catalog
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /catalog/camping-options [get]
func (h *CatalogHandler) ListCampingOptions(w http.ResponseWriter, r *http.Request) {
	h.listByKind(w, r, models.ResourceKindCampingOption)
}

func (h *CatalogHandler) listByKind(w http.ResponseWriter, r *http.Request, kind models.ResourceKind) {
	resources, err := h.catalogRepo.ListByKind(r.Context(), kind)
	if err != nil {
		serverErrorResponse(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"resources": resources}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
