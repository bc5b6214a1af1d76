// Package response writes JSON bodies and RFC 7807 problem responses.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
)

// ErrorDetail points at one offending input.
type ErrorDetail struct {
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// ProblemDetails is an RFC 7807 body.
type ProblemDetails struct {
	Type     string        `json:"type,omitempty"`
	Title    string        `json:"title"`
	Status   int           `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Instance string        `json:"instance,omitempty"`
	Errors   []ErrorDetail `json:"errors,omitempty"`
}

// RespondJSON writes data as JSON with statusCode.
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	write(w, contentTypeJSON, statusCode, data)
}

// RespondProblem writes p with its Status. Type defaults to about:blank.
func RespondProblem(w http.ResponseWriter, p ProblemDetails) {
	if p.Type == "" {
		p.Type = "about:blank"
	}

	write(w, contentTypeProblem, p.Status, p)
}

// RespondError writes a problem with only title and detail.
func RespondError(w http.ResponseWriter, statusCode int, title, detail string) {
	RespondProblem(w, ProblemDetails{Title: title, Status: statusCode, Detail: detail})
}

func RespondBadRequest(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusBadRequest, "Bad Request", detail)
}

func RespondUnauthorized(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func RespondForbidden(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusForbidden, "Forbidden", detail)
}

func RespondNotFound(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusNotFound, "Not Found", detail)
}

func RespondConflict(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusConflict, "Conflict", detail)
}

func RespondRequestEntityTooLarge(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", detail)
}

func RespondInternalServerError(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

func write(w http.ResponseWriter, contentType string, statusCode int, body any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response: encode failed", "status", statusCode, "error", err)
	}
}
