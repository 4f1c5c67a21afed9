package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agencyhub/agencyhub/domains/tenants/be/provisioning"
	"github.com/agencyhub/agencyhub/domains/tenants/be/service"
	"github.com/agencyhub/agencyhub/platform/go/persistence"
)

const (
	problemTypeValidation  = "https://agencyhub.dev/problems/validation-error"
	problemTypeNotFound    = "https://agencyhub.dev/problems/not-found"
	problemTypeUnavailable = "https://agencyhub.dev/problems/tenant-unavailable"
	problemTypeInternal    = "https://agencyhub.dev/problems/internal-error"
)

// ProblemDetails is the RFC 7807 error body used by every endpoint.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler wires the tenants service to the HTTP surface.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the administrative tenant endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/tenants", h.List)
	r.Post("/tenants", h.Create)
	r.Get("/tenants/domain-availability", h.DomainAvailability)
	r.Get("/tenants/{tenantId}", h.Get)
	r.Delete("/tenants/{tenantId}", h.Delete)
	r.Post("/tenant-databases/{databaseName}/repair", h.Repair)
	r.Post("/tenant-databases/{databaseName}/setup", h.CompleteSetup)
}

type createTenantRequest struct {
	AgencyName        string `json:"agencyName"`
	Domain            string `json:"domain"`
	AdminName         string `json:"adminName"`
	AdminEmail        string `json:"adminEmail"`
	AdminPasswordHash string `json:"adminPasswordHash"`
	Plan              string `json:"plan"`
	Industry          string `json:"industry"`
	Address           string `json:"address"`
	Locale            string `json:"locale"`
	Timezone          string `json:"timezone"`
	Currency          string `json:"currency"`
}

type createTenantResponse struct {
	TenantID       uuid.UUID `json:"tenantId"`
	DatabaseName   string    `json:"databaseName"`
	AdminUserID    uuid.UUID `json:"adminUserId"`
	ReusedExisting bool      `json:"reusedExisting"`
}

// Create implements POST /admin/tenants.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid request body", http.StatusBadRequest, err.Error())
		return
	}
	if req.AgencyName == "" || req.Domain == "" || req.AdminEmail == "" || req.AdminPasswordHash == "" {
		h.writeProblem(w, problemTypeValidation, "Missing required fields", http.StatusBadRequest,
			"agencyName, domain, adminEmail and adminPasswordHash are required")
		return
	}

	result, err := h.svc.CreateTenant(r.Context(), service.CreateTenantInput{
		AgencyName:        req.AgencyName,
		Domain:            req.Domain,
		AdminName:         req.AdminName,
		AdminEmail:        req.AdminEmail,
		AdminPasswordHash: req.AdminPasswordHash,
		Plan:              req.Plan,
		Onboarding: service.OnboardingMetadata{
			AgencyName: req.AgencyName,
			Industry:   req.Industry,
			Address:    req.Address,
			Locale:     req.Locale,
			Timezone:   req.Timezone,
			Currency:   req.Currency,
		},
	})
	if err != nil {
		h.problemForError(w, err)
		return
	}

	status := http.StatusCreated
	if result.ReusedExisting {
		status = http.StatusOK
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/tenants/%s", result.TenantID))
	h.writeJSON(w, status, createTenantResponse{
		TenantID:       result.TenantID,
		DatabaseName:   result.DatabaseName,
		AdminUserID:    result.AdminUserID,
		ReusedExisting: result.ReusedExisting,
	})
}

// DomainAvailability implements GET /admin/tenants/domain-availability?domain=
func (h *Handler) DomainAvailability(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		h.writeProblem(w, problemTypeValidation, "Missing domain parameter", http.StatusBadRequest, "domain query parameter is required")
		return
	}

	available, err := h.svc.CheckDomainAvailable(r.Context(), domain)
	if err != nil {
		h.problemForError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "available": available})
}

type tenantResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Domain       string    `json:"domain"`
	DatabaseName string    `json:"databaseName"`
	Plan         string    `json:"plan"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    string    `json:"createdAt"`
}

func toTenantResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID,
		Name:         t.Name,
		Domain:       t.Domain,
		DatabaseName: t.DatabaseName,
		Plan:         t.Plan,
		IsActive:     t.IsActive,
		CreatedAt:    t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// List implements GET /admin/tenants.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{Page: 1, PageSize: 20}
	if page := r.URL.Query().Get("page"); page != "" {
		fmt.Sscanf(page, "%d", &opts.Page) // nolint:errcheck
	}
	if size := r.URL.Query().Get("pageSize"); size != "" {
		fmt.Sscanf(size, "%d", &opts.PageSize) // nolint:errcheck
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.problemForError(w, err)
		return
	}

	items := make([]tenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toTenantResponse(t))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"page":       result.Page,
		"pageSize":   result.PageSize,
		"totalItems": result.TotalItems,
	})
}

// Get implements GET /admin/tenants/{tenantId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantId"))
	if err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid tenant id", http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.problemForError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// Delete implements DELETE /admin/tenants/{tenantId}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantId"))
	if err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid tenant id", http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.DeleteTenant(r.Context(), id); err != nil {
		h.problemForError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Repair implements POST /admin/tenant-databases/{databaseName}/repair.
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	databaseName := chi.URLParam(r, "databaseName")
	if err := persistence.ValidateIdentifier(databaseName); err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid database name", http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.RepairTenantSchema(r.Context(), databaseName)
	if err != nil {
		h.problemForError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tablesBefore": report.TablesBefore,
		"tablesAfter":  report.TablesAfter,
		"added":        report.Added,
	})
}

type completeSetupRequest struct {
	Settings struct {
		Website  string `json:"website"`
		Phone    string `json:"phone"`
		TaxID    string `json:"taxId"`
		Timezone string `json:"timezone"`
	} `json:"settings"`
	TeamMembers []struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		PasswordHash string `json:"passwordHash"`
		RoleName     string `json:"roleName"`
	} `json:"teamMembers"`
}

// CompleteSetup implements POST /admin/tenant-databases/{databaseName}/setup.
func (h *Handler) CompleteSetup(w http.ResponseWriter, r *http.Request) {
	databaseName := chi.URLParam(r, "databaseName")
	if err := persistence.ValidateIdentifier(databaseName); err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid database name", http.StatusBadRequest, err.Error())
		return
	}

	var req completeSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, problemTypeValidation, "Invalid request body", http.StatusBadRequest, err.Error())
		return
	}

	members := make([]service.TeamMemberInput, 0, len(req.TeamMembers))
	for _, m := range req.TeamMembers {
		members = append(members, service.TeamMemberInput{
			Name:         m.Name,
			Email:        m.Email,
			PasswordHash: m.PasswordHash,
			RoleName:     m.RoleName,
		})
	}

	manifest, err := h.svc.CompleteTenantSetup(r.Context(), databaseName, service.ExtendedSettings{
		Website:  req.Settings.Website,
		Phone:    req.Settings.Phone,
		TaxID:    req.Settings.TaxID,
		Timezone: req.Settings.Timezone,
	}, members)
	if err != nil {
		h.problemForError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, manifest)
}

func (h *Handler) problemForError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDomain):
		h.writeProblem(w, problemTypeValidation, "Invalid domain", http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.writeProblem(w, problemTypeNotFound, "Not found", http.StatusNotFound, err.Error())
	case errors.Is(err, persistence.ErrPoolSaturated),
		errors.Is(err, persistence.ErrTenantUnreachable):
		h.writeProblem(w, problemTypeUnavailable, "Tenant temporarily unavailable", http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, persistence.ErrTenantDatabaseNotFound):
		h.writeProblem(w, problemTypeNotFound, "Tenant database not found", http.StatusNotFound, err.Error())
	case errors.Is(err, provisioning.ErrProvisioningFailed):
		h.logger.Error("tenant provisioning failed", zap.Error(err))
		h.writeProblem(w, problemTypeInternal, "Provisioning failed", http.StatusInternalServerError, "tenant provisioning failed")
	default:
		h.logger.Error("tenant operation failed", zap.Error(err))
		h.writeProblem(w, problemTypeInternal, "Internal error", http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, problemType, title string, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ProblemDetails{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	}); err != nil {
		h.logger.Warn("problem response encoding failed", zap.Error(err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("response encoding failed", zap.Error(err))
	}
}
