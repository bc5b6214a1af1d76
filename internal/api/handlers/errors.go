// Package handlers implements the HTTP handlers of the hub API.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/retailiq/hub/internal/api/response"
	"github.com/retailiq/hub/internal/huberrors"
)

const unexpectedErrorDetail = "An unexpected error occurred"

// respondServiceError maps service errors to problem responses. Unknown errors are logged and
// answered with a generic 500 so internals do not leak.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch huberrors.KindOf(err) {
	case huberrors.KindValidation:
		response.RespondBadRequest(w, err.Error())
	case huberrors.KindNotFound:
		response.RespondNotFound(w, err.Error())
	case huberrors.KindForbidden:
		response.RespondForbidden(w, err.Error())
	case huberrors.KindConflict:
		response.RespondConflict(w, err.Error())
	case huberrors.KindLimitExceeded:
		response.RespondRequestEntityTooLarge(w, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"route", r.Pattern,
			"error", err,
		)
		response.RespondInternalServerError(w, unexpectedErrorDetail)
	}
}
