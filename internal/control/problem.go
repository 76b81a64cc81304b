package control

import (
	"encoding/json"
	"net/http"

	"github.com/turtacn/booklore-runner/pkg/errors"
)

// Problem is an RFC 7807 problem body extended with the runner's error code.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

const contentTypeProblemJSON = "application/problem+json"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeProblem(w http.ResponseWriter, status int, code errors.ErrorCode, detail string) {
	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code.Name(),
	})
}

// writeError maps a runner error onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	writeProblem(w, statusFor(code), code, errors.Describe(err))
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotReady, errors.ErrCodeAlreadyStarted:
		return http.StatusConflict
	case errors.ErrCodeImport:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeConfigInvalid:
		return http.StatusBadRequest
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Personal.AI order the ending
