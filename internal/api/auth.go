package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"aurum/api/internal/auth"
	"aurum/api/internal/middleware"
	"aurum/api/internal/repository"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func viewUser(u *repository.UserRow) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := repository.UserByEmail(r.Context(), s.DB, email); err == nil {
		respondError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		respondDomainError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	id, err := repository.CreateUser(r.Context(), s.DB, strings.TrimSpace(req.Name), email, hash, auth.RoleUser)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	u := &repository.UserRow{ID: id, Name: strings.TrimSpace(req.Name), Email: email, Role: auth.RoleUser}
	s.issueToken(w, r, http.StatusCreated, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := repository.UserByEmail(r.Context(), s.DB, req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondDomainError(w, r, err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.issueToken(w, r, http.StatusOK, u)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, status int, u *repository.UserRow) {
	token, err := auth.NewToken(u.ID, u.Role, s.Config.JWTSecret, s.Config.TokenTTL)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	log.Info().Str("user_id", u.ID).Msg("user signed in")
	respondJSON(w, status, authResponse{Token: token, User: viewUser(u)})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := repository.UserByID(r.Context(), s.DB, middleware.UserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewUser(u))
}
