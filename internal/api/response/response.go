// Package response writes JSON, CSV and problem responses.
package response

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/modisviirs/subsetd/internal/api/middleware"
	"github.com/modisviirs/subsetd/internal/api/models"
)

// JSON writes data as JSON with the given status code.
// The X-Request-Id header is set for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// CSV writes the bodies back to back as text/csv. Each body is terminated with a newline if it
// lacks one. A first line repeated at the top of later bodies is a per-chunk header and is
// written once.
func CSV(w http.ResponseWriter, r *http.Request, filename string, bodies [][]byte) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)

	var header []byte
	for _, body := range bodies {
		if len(body) == 0 {
			continue
		}
		line := firstLine(body)
		if header == nil {
			header = line
		} else if bytes.Equal(line, header) {
			body = body[len(line):]
			if len(body) == 0 {
				continue
			}
		}
		_, _ = w.Write(body)
		if body[len(body)-1] != '\n' {
			_, _ = w.Write([]byte{'\n'})
		}
	}
}

// firstLine returns body up to and including its first newline.
func firstLine(body []byte) []byte {
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		return body[:i+1]
	}
	return body
}

// Error writes a problem response for r.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// Unprocessable writes a 422 problem.
func Unprocessable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnprocessable(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}

// BadGateway writes a 502 problem.
func BadGateway(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewBadGateway(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 problem.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}
