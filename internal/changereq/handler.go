package changereq

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/finlog"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// Handler wires HTTP endpoints for the change-request workflow.
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

// MountRoutes registers change-request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapChangeSubmit))
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Post("/{id}/cancel", h.cancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapChangeDecide))
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
}

// MountPendingCount registers the approvals pending-count route.
func (h *Handler) MountPendingCount(r chi.Router) {
	r.Get("/pending-count", h.pendingCount)
}

type createPayload struct {
	BranchID   int64  `json:"branch_id" validate:"required,gt=0"`
	RecordDate string `json:"record_date" validate:"required"`
	Earnings   string `json:"earnings" validate:"required"`
	Expenses   string `json:"expenses" validate:"required"`
	Summary    string `json:"summary" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}
	date, err := time.Parse("2006-01-02", payload.RecordDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "record_date: expected YYYY-MM-DD")
		return
	}
	earnings, err := parseAmount(payload.Earnings)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "earnings: invalid amount")
		return
	}
	expenses, err := parseAmount(payload.Expenses)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "expenses: invalid amount")
		return
	}

	req, err := h.service.Create(r.Context(), actor, payload.BranchID, date, finlog.Snapshot{
		Earnings: earnings,
		Expenses: expenses,
		Summary:  payload.Summary,
	})
	if err != nil {
		shared.RespondError(w, h.logger, "create change request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	q := r.URL.Query()
	filters := Filters{Status: Status(q.Get("status"))}
	if raw := q.Get("branch"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "branch: invalid id")
			return
		}
		filters.BranchIDs = []int64{id}
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))

	rows, total, err := h.service.List(r.Context(), actor, filters)
	if err != nil {
		shared.RespondError(w, h.logger, "list change requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"change_requests": rows,
		"pagination":      shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid change request id")
		return
	}
	row, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		shared.RespondError(w, h.logger, "get change request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "approve change request", func(actor policy.Actor, id uuid.UUID) (ChangeRequest, error) {
		return h.service.Approve(r.Context(), actor, id)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject change request", func(actor policy.Actor, id uuid.UUID) (ChangeRequest, error) {
		return h.service.Reject(r.Context(), actor, id)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op string, fn func(policy.Actor, uuid.UUID) (ChangeRequest, error)) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid change request id")
		return
	}
	req, err := fn(actor, id)
	if err != nil {
		shared.RespondError(w, h.logger, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid change request id")
		return
	}
	if err := h.service.Cancel(r.Context(), actor, id); err != nil {
		shared.RespondError(w, h.logger, "cancel change request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) pendingCount(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	count, err := h.service.PendingCount(r.Context(), actor)
	if err != nil {
		shared.RespondError(w, h.logger, "pending count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"pending": count})
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
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
