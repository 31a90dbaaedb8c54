package profiles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// Handler wires HTTP endpoints for profile management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	policy    policy.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw policy.Middleware) *Handler {
	return &Handler{logger: logger, service: service, policy: mw, validator: validator.New()}
}

// MountRoutes registers profile routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.showMe)
	r.Put("/me", h.updateMe)

	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapBranchAssign))
		r.Post("/{id}/staff-assignment", h.assignStaff)
		r.Delete("/{id}/staff-assignment", h.unassignStaff)
	})
}

// MountAdminRoutes registers the admin-only profile routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/profiles", h.list)
	r.Put("/profiles/{id}/role", h.changeRole)
}

func (h *Handler) showMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	profile, err := h.service.Get(r.Context(), actor.ID)
	if err != nil {
		shared.RespondError(w, h.logger, "get own profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

type updateMePayload struct {
	FirstName string `json:"first_name" validate:"required,max=120"`
	LastName  string `json:"last_name" validate:"max=120"`
	Phone     string `json:"phone" validate:"max=32"`
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var payload updateMePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	if err := h.service.UpdateContact(r.Context(), actor, payload.FirstName, payload.LastName, payload.Phone); err != nil {
		shared.RespondError(w, h.logger, "update own profile", err)
		return
	}
	profile, err := h.service.Get(r.Context(), actor.ID)
	if err != nil {
		shared.RespondError(w, h.logger, "reload own profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filters := ListFilters{
		Search: r.URL.Query().Get("search"),
		Role:   policy.Role(r.URL.Query().Get("role")),
		Page:   page,
		Limit:  limit,
	}
	items, total, err := h.service.List(r.Context(), actor, filters)
	if err != nil {
		shared.RespondError(w, h.logger, "list profiles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"profiles":   items,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

type changeRolePayload struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid profile id")
		return
	}
	var payload changeRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.service.ChangeRole(r.Context(), actor, id, policy.Role(payload.Role)); err != nil {
		shared.RespondError(w, h.logger, "change role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type assignStaffPayload struct {
	BranchID int64 `json:"branch_id" validate:"required,gt=0"`
}

func (h *Handler) assignStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid profile id")
		return
	}
	var payload assignStaffPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	if err := h.service.AssignStaff(r.Context(), actor, id, payload.BranchID); err != nil {
		shared.RespondError(w, h.logger, "assign staff", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

func (h *Handler) unassignStaff(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid profile id")
		return
	}
	if err := h.service.UnassignStaff(r.Context(), actor, id); err != nil {
		shared.RespondError(w, h.logger, "unassign staff", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
	}
	return fields
}
