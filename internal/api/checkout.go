package api

import (
	"net/http"
	"strings"

	"aurum/api/internal/checkout"
	"aurum/api/internal/middleware"
	"aurum/api/internal/repository"
)

type quoteRequest struct {
	Items      []checkout.Item `json:"items" validate:"dive"`
	CouponCode string          `json:"couponCode" validate:"max=40"`
}

// cartItems falls back to the signed-in user's cart when items is empty.
func (s *Server) cartItems(r *http.Request, items []checkout.Item) ([]checkout.Item, error) {
	userID := middleware.UserID(r.Context())
	if len(items) > 0 || userID == "" {
		return items, nil
	}
	lines, err := repository.CartLines(r.Context(), s.DB, userID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		items = append(items, checkout.Item{ProductID: l.Product.ID, Quantity: l.Quantity})
	}
	return items, nil
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decode(w, r, &req) {
		return
	}
	items, err := s.cartItems(r, req.Items)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	q, err := s.Checkout.Quote(r.Context(), items, req.CouponCode)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

type placeOrderRequest struct {
	Email           string             `json:"email" validate:"omitempty,email"`
	Name            string             `json:"name" validate:"max=120"`
	Items           []checkout.Item    `json:"items" validate:"dive"`
	CouponCode      string             `json:"couponCode" validate:"max=40"`
	Provider        string             `json:"provider" validate:"required"`
	ShippingAddress repository.Address `json:"shippingAddress"`
	ReturnURL       string             `json:"returnUrl" validate:"omitempty,url"`
	CancelURL       string             `json:"cancelUrl" validate:"omitempty,url"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decode(w, r, &req) {
		return
	}
	userID := middleware.UserID(r.Context())
	email, name := strings.TrimSpace(req.Email), strings.TrimSpace(req.Name)
	if userID != "" && (email == "" || name == "") {
		u, err := repository.UserByID(r.Context(), s.DB, userID)
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		if email == "" {
			email = u.Email
		}
		if name == "" {
			name = u.Name
		}
	}
	if email == "" {
		respondError(w, http.StatusBadRequest, "email is required for guest checkout")
		return
	}
	if name == "" {
		name = req.ShippingAddress.Name
	}
	if userID == "" && len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, checkout.ErrEmptyCart.Error())
		return
	}

	placed, err := s.Checkout.PlaceOrder(r.Context(), checkout.PlaceOrderInput{
		UserID:          userID,
		Email:           email,
		Name:            name,
		Items:           req.Items,
		CouponCode:      req.CouponCode,
		Provider:        strings.ToLower(req.Provider),
		ShippingAddress: req.ShippingAddress,
		ReturnURL:       req.ReturnURL,
		CancelURL:       req.CancelURL,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, placed)
}
