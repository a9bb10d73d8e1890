package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dischat/models"
	"dischat/realtime"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type receiptRequest struct {
	Column string `json:"column"`
}

type receiptResponse struct {
	Updated int64 `json:"updated"`
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func identityFrom(ctx context.Context) models.Identity {
	identity, _ := ctx.Value(identityKey{}).(models.Identity)
	return identity
}

type tokenKey struct{}

func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := realtime.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token", "missing bearer token")
			return
		}
		identity, err := s.backend.Authenticate(r.Context(), token)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		ctx := withIdentity(r.Context(), identity)
		ctx = context.WithValue(ctx, tokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.backend.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decode(w, r, &req) {
		return
	}
	session, err := s.backend.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey{}).(string)
	if err := s.backend.SignOut(r.Context(), token); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFrom(r.Context()))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	var (
		users []models.User
		err   error
	)
	if exclude := r.URL.Query().Get("exclude"); exclude != "" {
		users, err = s.backend.ListUsersExcept(r.Context(), exclude)
	} else {
		users, err = s.backend.ListUsers(r.Context())
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleInsertUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if !s.decode(w, r, &user) {
		return
	}
	stored, err := s.backend.InsertUser(r.Context(), identityFrom(r.Context()), user)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get("peer")
	history, err := s.backend.Conversation(r.Context(), identityFrom(r.Context()), peer)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if history == nil {
		history = []models.Message{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleInsertMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.NewMessage
	if !s.decode(w, r, &msg) {
		return
	}
	stored, err := s.backend.InsertMessage(r.Context(), identityFrom(r.Context()), msg)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleMarkReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.backend.MarkReceipt(r.Context(), identityFrom(r.Context()), req.Column)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{Updated: n})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", fmt.Sprintf("decode request body: %v", err))
		return false
	}
	return true
}
