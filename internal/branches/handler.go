package branches

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

// Handler wires HTTP endpoints for the branch directory.
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

// MountRoutes registers branch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapBranchView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Get("/{id}/managers", h.listManagers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapBranchEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/archive", h.archive)
		r.Delete("/{id}", h.remove)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapBranchAssign))
		r.Post("/{id}/managers", h.assignManager)
		r.Delete("/{id}/managers/{managerID}", h.unassignManager)
	})
}

type branchPayload struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	includeArchived := r.URL.Query().Get("archived") == "true" && actor.Role == policy.RoleAdmin
	items, err := h.service.List(r.Context(), actor, includeArchived)
	if err != nil {
		shared.RespondError(w, h.logger, "list branches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branches": items})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	branch, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		shared.RespondError(w, h.logger, "get branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var payload branchPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	branch, err := h.service.Create(r.Context(), actor, payload.Name, payload.Address)
	if err != nil {
		shared.RespondError(w, h.logger, "create branch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	var payload branchPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	branch, err := h.service.Update(r.Context(), actor, id, payload.Name, payload.Address)
	if err != nil {
		shared.RespondError(w, h.logger, "update branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	if err := h.service.Archive(r.Context(), actor, id); err != nil {
		shared.RespondError(w, h.logger, "archive branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		shared.RespondError(w, h.logger, "delete branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listManagers(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	assignments, err := h.service.Assignments(r.Context(), actor, id)
	if err != nil {
		shared.RespondError(w, h.logger, "list branch managers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"managers": assignments})
}

type assignManagerPayload struct {
	ManagerID int64 `json:"manager_id" validate:"required,gt=0"`
}

func (h *Handler) assignManager(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	var payload assignManagerPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	if err := h.service.AssignManager(r.Context(), actor, payload.ManagerID, id); err != nil {
		shared.RespondError(w, h.logger, "assign manager", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

func (h *Handler) unassignManager(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := parseID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	managerID, err := parseID(r, "managerID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid manager id")
		return
	}
	if err := h.service.UnassignManager(r.Context(), actor, managerID, id); err != nil {
		shared.RespondError(w, h.logger, "unassign manager", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

func parseID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
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
