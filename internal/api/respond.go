package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"aurum/api/internal/checkout"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/repository"
)

const maxBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return "invalid input: " + strings.Join(msgs, ", ")
}

// respondDomainError maps service errors to HTTP statuses.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrRefundRequired), errors.Is(err, order.ErrNotPaid),
		errors.Is(err, checkout.ErrOutOfStock):
		status = http.StatusConflict
	case errors.Is(err, order.ErrAmountMismatch), errors.Is(err, checkout.ErrInvalidCoupon),
		errors.Is(err, checkout.ErrUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrEmptyCart), errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, payment.ErrUnknownProvider):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

// pageParams reads page and per_page, clamping per_page to 1..100.
func pageParams(r *http.Request, defaultPerPage int) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

type pageResponse struct {
	Items   interface{} `json:"items"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"perPage"`
}
