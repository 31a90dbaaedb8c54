package financials

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// Handler wires HTTP endpoints for financial records. Routes are mounted
// under the branches resource.
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

// MountRoutes registers financial record routes on the branches router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapFinancialView))
		r.Get("/{id}/financials", h.list)
		r.Get("/{id}/financials/{date}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapFinancialWrite))
		r.Post("/{id}/financials", h.upsert)
	})
}

type recordPayload struct {
	RecordDate string `json:"record_date" validate:"required"`
	Earnings   string `json:"earnings" validate:"required"`
	Expenses   string `json:"expenses" validate:"required"`
	Summary    string `json:"summary" validate:"required"`
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	branchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}

	var payload recordPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON payload")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.ValidationProblem(w, validationFields(err))
		return
	}

	input, err := payload.toInput(branchID)
	if err != nil {
		shared.RespondError(w, h.logger, "parse record payload", err)
		return
	}

	rec, err := h.service.Upsert(r.Context(), actor, input)
	if err != nil {
		if errors.Is(err, ErrOutsideWriteWindow) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "date outside direct write window; submit a change request")
			return
		}
		shared.RespondError(w, h.logger, "upsert financial record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	branchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}

	var filters ListFilters
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(DateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "from: expected YYYY-MM-DD")
			return
		}
		filters.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(DateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "to: expected YYYY-MM-DD")
			return
		}
		filters.To = &t
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))

	records, total, err := h.service.List(r.Context(), actor, branchID, filters)
	if err != nil {
		shared.RespondError(w, h.logger, "list financial records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"records":    records,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	branchID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid branch id")
		return
	}
	date, err := time.Parse(DateLayout, chi.URLParam(r, "date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date: expected YYYY-MM-DD")
		return
	}

	rec, err := h.service.Get(r.Context(), actor, branchID, date)
	if err != nil {
		shared.RespondError(w, h.logger, "get financial record", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (p recordPayload) toInput(branchID int64) (Input, error) {
	date, err := time.Parse(DateLayout, p.RecordDate)
	if err != nil {
		return Input{}, shared.NewValidationError("record_date", "expected YYYY-MM-DD")
	}
	earnings, err := ParseAmount("earnings", p.Earnings)
	if err != nil {
		return Input{}, err
	}
	expenses, err := ParseAmount("expenses", p.Expenses)
	if err != nil {
		return Input{}, err
	}
	return Input{
		BranchID:   branchID,
		RecordDate: date,
		Earnings:   earnings,
		Expenses:   expenses,
		Summary:    p.Summary,
	}, nil
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
