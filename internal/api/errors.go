package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jensholdgaard/live-auction/internal/auction"
	"github.com/jensholdgaard/live-auction/internal/auth"
	"github.com/jensholdgaard/live-auction/internal/team"
	"github.com/jensholdgaard/live-auction/internal/telemetry"
)

var errBadRequest = errors.New("malformed request")

// rejectionCode maps a rejection reason to its HTTP status.
func rejectionCode(reason error) int {
	switch {
	case errors.Is(reason, auction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(reason, auction.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(reason, auction.ErrNotLive),
		errors.Is(reason, auction.ErrInvalidTransition),
		errors.Is(reason, auction.ErrContended):
		return http.StatusConflict
	case errors.Is(reason, auction.ErrPriceTooLow), errors.Is(reason, auction.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(reason, auction.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

// writeError renders err. Rejections carry the observed state; anything
// unexpected is logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *auction.Rejection
	if errors.As(err, &rej) {
		body := errorBody{
			Error:    auction.ReasonName(rej),
			Message:  rej.Error(),
			Status:   string(rej.Status),
			Attempts: rej.Attempts,
		}
		if rej.Status != "" {
			body.CurrentPrice = &rej.CurrentPrice
		}
		if !rej.MinimumNext.IsZero() {
			body.MinimumNext = &rej.MinimumNext
		}
		writeJSON(w, rejectionCode(rej.Reason), body)
		return
	}

	code, name := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, errBadRequest):
		code, name = http.StatusBadRequest, "bad_request"
	case errors.Is(err, auction.ErrNotFound), errors.Is(err, team.ErrNotFound):
		code, name = http.StatusNotFound, "not_found"
	case errors.Is(err, auction.ErrInvalidPlayer), errors.Is(err, team.ErrInvalidTeam), errors.Is(err, auth.ErrInvalidRegistration):
		code, name = http.StatusBadRequest, "invalid"
	case errors.Is(err, team.ErrDuplicateName), errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrEmailTaken):
		code, name = http.StatusConflict, "duplicate"
	case errors.Is(err, auth.ErrInvalidCredentials):
		code, name = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidSession):
		code, name = http.StatusUnauthorized, "invalid_session"
	}

	if code == http.StatusInternalServerError {
		telemetry.LogWithTrace(r.Context(), s.logger).ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, code, errorBody{Error: name, Message: "internal error"})
		return
	}
	msg := err.Error()
	if code == http.StatusUnauthorized {
		// Never reveal which part of a credential was wrong.
		msg = auth.ErrInvalidCredentials.Error()
		if name == "invalid_session" {
			msg = auth.ErrInvalidSession.Error()
		}
	}
	writeJSON(w, code, errorBody{Error: name, Message: msg})
}
