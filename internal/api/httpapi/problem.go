package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	apperrors "github.com/jimmythecoder/passkeys/internal/platform/errors"
)

// Problem is an RFC 9457 problem details body. Title carries the machine
// readable error code so API clients can reconstruct a typed error.
type Problem struct {
	Type    string            `json:"type"`
	Status  int               `json:"status"`
	Title   string            `json:"title"`
	Detail  string            `json:"detail"`
	Context map[string]string `json:"context,omitempty"`
}

// WriteProblem renders err as a problem details response. Errors outside the
// domain taxonomy become a 500 with no internal detail and a log line.
func WriteProblem(w http.ResponseWriter, err error) {
	problem := Problem{
		Type:   "about:blank",
		Status: http.StatusInternalServerError,
		Title:  string(apperrors.CodeUnknown),
		Detail: "internal server error",
	}

	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		problem.Status = domainErr.Code.HTTPStatus()
		problem.Title = string(domainErr.Code)
		problem.Detail = domainErr.Message
		problem.Context = domainErr.Metadata
	}
	if problem.Status >= http.StatusInternalServerError {
		problem.Title = string(apperrors.CodeUnknown)
		problem.Detail = "internal server error"
		problem.Context = nil
		log.Printf("internal error: %v", err)
	}

	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
