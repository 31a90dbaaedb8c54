package dashboard

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// defaultRangeDays is used when the caller omits from/to.
const defaultRangeDays = 30

// Handler wires the dashboard endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
	policy  policy.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw policy.Middleware) *Handler {
	return &Handler{logger: logger, service: service, policy: mw}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapDashboardView))
		r.Get("/", h.summary)
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	q, err := parseQuery(r, h.service.now())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	summary, err := h.service.Summarize(r.Context(), actor, q)
	if err != nil {
		shared.RespondError(w, h.logger, "dashboard summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func parseQuery(r *http.Request, now time.Time) (Query, error) {
	var q Query
	params := r.URL.Query()

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	q.To = today
	q.From = today.AddDate(0, 0, -(defaultRangeDays - 1))

	if raw := params.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Query{}, shared.NewValidationError("from", "expected YYYY-MM-DD")
		}
		q.From = t
	}
	if raw := params.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Query{}, shared.NewValidationError("to", "expected YYYY-MM-DD")
		}
		q.To = t
	}
	if raw := params.Get("branch"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Query{}, shared.NewValidationError("branch", "invalid branch id")
		}
		q.BranchID = &id
	}
	return q, nil
}
