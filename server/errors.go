package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"dischat/auth"
	"dischat/backend"
	"dischat/storage"
)

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "email_taken"
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, "weak_password"
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_email"
	case errors.Is(err, backend.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, backend.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		message = "internal error"
	}
	writeError(w, status, code, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
