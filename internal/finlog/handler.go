package finlog

import (
	"bytes"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/policy"
	"github.com/branchledger/branchledger/internal/shared"
)

// Handler wires HTTP endpoints for the financial log.
type Handler struct {
	logger  *slog.Logger
	service *Service
	policy  policy.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw policy.Middleware) *Handler {
	return &Handler{logger: logger, service: service, policy: mw}
}

// MountRoutes registers financial log routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapLogView))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.policy.Require(policy.CapLogExport))
		r.Get("/export", h.export)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rows, total, err := h.service.List(r.Context(), actor, filters)
	if err != nil {
		shared.RespondError(w, h.logger, "list financial logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"logs":       rows,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rows, err := h.service.Export(r.Context(), actor, filters)
	if err != nil {
		shared.RespondError(w, h.logger, "export financial logs", err)
		return
	}

	data, err := writeCSV(rows)
	if err != nil {
		shared.RespondError(w, h.logger, "write financial log csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="financial_logs.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{"at", "branch", "actor", "action", "record_date", "earnings", "expenses", "summary"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.CreatedAt.Format(time.RFC3339),
			row.BranchName,
			row.ActorEmail,
			string(row.Action),
			row.Data.RecordDate,
			row.Data.Earnings.StringFixed(2),
			row.Data.Expenses.StringFixed(2),
			row.Data.Summary,
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func parseFilters(r *http.Request) (Filters, error) {
	var filters Filters
	q := r.URL.Query()

	if raw := q.Get("branch"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Filters{}, shared.NewValidationError("branch", "invalid branch id")
		}
		filters.BranchIDs = []int64{id}
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Filters{}, shared.NewValidationError("from", "expected YYYY-MM-DD")
		}
		filters.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Filters{}, shared.NewValidationError("to", "expected YYYY-MM-DD")
		}
		end := t.AddDate(0, 0, 1)
		filters.To = &end
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	return filters, nil
}
