package api

import (
	"net/http"
	"strings"

	"aurum/api/internal/mail"
)

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

func (s *Server) contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decode(w, r, &req) {
		return
	}
	inbox := s.Config.SMTP.StoreInbox
	if inbox == "" {
		inbox = s.Config.SMTP.From
	}
	if inbox == "" {
		respondError(w, http.StatusServiceUnavailable, "contact form is not configured")
		return
	}
	err := mail.EnqueueContact(r.Context(), s.DB, inbox, mail.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Subject: strings.TrimSpace(req.Subject),
		Body:    req.Message,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
