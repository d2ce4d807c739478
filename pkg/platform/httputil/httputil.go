// Package httputil holds the JSON envelope helpers shared by handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "agentgate/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the envelope for non-2xx responses.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Validatable is implemented by request bodies decoded with DecodeAndPrepare.
type Validatable interface {
	Validate() error
}

// Normalizer is optionally implemented by request bodies that trim or
// canonicalize input before validation.
type Normalizer interface {
	Normalize()
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded error into a status and envelope. Server-side
// failures never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	resp := ErrorResponse{Error: string(code)}
	if de, ok := dErrors.As(err); ok && status < http.StatusInternalServerError {
		resp.ErrorDescription = de.Message
	}
	WriteJSON(w, status, resp)
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeAlreadyRegistered:
		return http.StatusConflict
	case dErrors.CodeAdmissionDenied:
		return http.StatusTooManyRequests
	case dErrors.CodeInvalidOrExpired:
		return http.StatusGone
	case dErrors.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes the JSON body into a fresh T, normalizes it when
// supported and validates it. Errors carry CodeBadRequest for unreadable
// bodies and CodeValidation for rejected fields.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request) (PT, error) {
	var zero PT
	req := PT(new(T))
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil {
		if errors.Is(err, io.EOF) {
			return zero, dErrors.Wrap(err, dErrors.CodeBadRequest, "request body is required")
		}
		return zero, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	if n, ok := any(req).(Normalizer); ok {
		n.Normalize()
	}
	if err := req.Validate(); err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeBadRequest) {
			return zero, err
		}
		return zero, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	return req, nil
}
