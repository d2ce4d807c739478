package handler

import (
	"net/http"

	dErrors "agentgate/pkg/domain-errors"
	"agentgate/pkg/platform/httputil"
)

// Envelope flags. /validate-token answers with "valid", the others with "success".
const (
	flagSuccess = "success"
	flagValid   = "valid"
)

const (
	tooManyAttemptsMessage = "Too many attempts. Please try again later."
	unavailableMessage     = "The service is temporarily unavailable. Please try again later."
	internalMessage        = "An unexpected error occurred. Please try again later."
)

type InviteResponse struct {
	Success      bool   `json:"success"`
	InvitationID string `json:"invitationId"`
	EmailSent    bool   `json:"emailSent"`
}

type ValidateTokenResponse struct {
	Valid bool `json:"valid"`
}

type CreateAccountResponse struct {
	Success bool          `json:"success"`
	User    *UserResponse `json:"user,omitempty"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// envelopeStatus keeps logical rejections of well-formed requests at 200.
func envelopeStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeAdmissionDenied, dErrors.CodeConflict, dErrors.CodeAlreadyRegistered, dErrors.CodeInvalidOrExpired:
		return http.StatusOK
	default:
		return httputil.StatusFor(code)
	}
}

// writeRejection writes {<flag>: false, error, code}. Server faults get a
// fixed message.
func writeRejection(w http.ResponseWriter, flag string, err error) dErrors.Code {
	code := dErrors.CodeOf(err)
	status := envelopeStatus(code)

	message := internalMessage
	switch {
	case code == dErrors.CodeAdmissionDenied:
		message = tooManyAttemptsMessage
	case code == dErrors.CodeStoreUnavailable:
		message = unavailableMessage
	case status < http.StatusInternalServerError:
		if de, ok := dErrors.As(err); ok {
			message = de.Message
		}
	}

	httputil.WriteJSON(w, status, map[string]any{
		flag:    false,
		"error": message,
		"code":  string(code),
	})
	return code
}
