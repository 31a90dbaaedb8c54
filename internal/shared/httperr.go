package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// RespondError maps the error taxonomy onto problem responses. Store and
// transport failures are logged and answered with a generic 500; internal
// error text is never echoed to the client.
func RespondError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		fields := map[string]string{}
		if ve.Field != "" {
			fields[ve.Field] = ve.Message
		}
		httpx.ValidationProblem(w, fields)
		return
	}

	var se *StepError
	if errors.As(err, &se) {
		if logger != nil {
			logger.Error(op, slog.String("step", se.Step), slog.Any("error", se.Err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "operation failed at step "+se.Step)
		return
	}

	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient role")
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "resource does not exist")
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		if logger != nil {
			logger.Error(op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}
