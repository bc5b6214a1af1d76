package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/retailiq/hub/internal/api/response"
)

// BodyLimitRecorder counts requests rejected by MaxBody. May be nil.
type BodyLimitRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context, route string)
}

// MaxBody caps request bodies at limit bytes and answers 413 when a body is larger.
// Requests that declare a larger Content-Length are rejected before the handler runs.
// Otherwise the handler's response is held back until it returns, so a limit hit
// while streaming still turns into a 413 instead of whatever the handler wrote.
// A limit <= 0 disables the check.
func MaxBody(limit int64, recorder BodyLimitRecorder) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	reject := func(w http.ResponseWriter, r *http.Request) {
		if recorder != nil {
			recorder.RecordRequestBodyTooLarge(r.Context(), r.Pattern)
		}

		response.RespondError(w, http.StatusRequestEntityTooLarge,
			"Request Entity Too Large", "request body exceeds maximum allowed size")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				reject(w, r)

				return
			}

			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)

				return
			}

			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, limit)}
			r.Body = body

			held := &heldResponse{ResponseWriter: w}
			next.ServeHTTP(held, r)

			if body.exceeded {
				reject(w, r)

				return
			}

			held.release()
		})
	}
}

// limitedBody remembers whether the wrapped MaxBytesReader tripped.
type limitedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}

	return n, err //nolint:wrapcheck // io.Reader contract: io.EOF must pass through unwrapped
}

// heldResponse buffers status and body until release.
type heldResponse struct {
	http.ResponseWriter

	status int
	body   bytes.Buffer
}

func (h *heldResponse) WriteHeader(status int) {
	if h.status == 0 {
		h.status = status
	}
}

func (h *heldResponse) Write(p []byte) (int, error) {
	return h.body.Write(p) //nolint:wrapcheck // bytes.Buffer never fails
}

func (h *heldResponse) release() {
	if h.status != 0 {
		h.ResponseWriter.WriteHeader(h.status)
	}

	_, _ = h.body.WriteTo(h.ResponseWriter)
}
