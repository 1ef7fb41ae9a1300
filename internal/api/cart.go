package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"aurum/api/internal/checkout"
	"aurum/api/internal/middleware"
	"aurum/api/internal/repository"
)

type cartLineView struct {
	repository.CartLine
	LineTotalCents int64 `json:"lineTotalCents"`
}

type cartView struct {
	Items         []cartLineView `json:"items"`
	Count         int            `json:"count"`
	SubtotalCents int64          `json:"subtotalCents"`
	Currency      string         `json:"currency"`
}

func (s *Server) respondCart(w http.ResponseWriter, r *http.Request) {
	lines, err := repository.CartLines(r.Context(), s.DB, middleware.UserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	view := cartView{Items: make([]cartLineView, 0, len(lines)), Currency: s.Config.Currency}
	for _, l := range lines {
		total := l.Product.PriceCents * int64(l.Quantity)
		view.Items = append(view.Items, cartLineView{CartLine: l, LineTotalCents: total})
		view.Count += l.Quantity
		view.SubtotalCents += total
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.respondCart(w, r)
}

// activeProduct answers 404 when id is not a product on sale.
func (s *Server) activeProduct(w http.ResponseWriter, r *http.Request, id string) bool {
	p, err := repository.ProductByID(r.Context(), s.DB, id)
	if err == nil && !p.Active {
		err = repository.ErrNotFound
	}
	if err != nil {
		respondDomainError(w, r, err)
		return false
	}
	return true
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req checkout.Item
	if !decode(w, r, &req) {
		return
	}
	if !s.activeProduct(w, r, req.ProductID) {
		return
	}
	userID := middleware.UserID(r.Context())
	current, err := repository.CartQuantity(r.Context(), s.DB, userID, req.ProductID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	qty := current + req.Quantity
	if qty > checkout.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, checkout.ErrInvalidQuantity.Error())
		return
	}
	if err := repository.SetCartItem(r.Context(), s.DB, userID, req.ProductID, qty); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.respondCart(w, r)
}

func (s *Server) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity" validate:"min=0,max=10"`
	}
	if !decode(w, r, &req) {
		return
	}
	userID := middleware.UserID(r.Context())
	productID := chi.URLParam(r, "productID")
	var err error
	if req.Quantity == 0 {
		err = repository.RemoveCartItem(r.Context(), s.DB, userID, productID)
	} else {
		if !s.activeProduct(w, r, productID) {
			return
		}
		err = repository.SetCartItem(r.Context(), s.DB, userID, productID, req.Quantity)
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.respondCart(w, r)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	if err := repository.RemoveCartItem(r.Context(), s.DB, middleware.UserID(r.Context()), chi.URLParam(r, "productID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.respondCart(w, r)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := repository.ClearCart(r.Context(), s.DB, middleware.UserID(r.Context())); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getWishlist(w http.ResponseWriter, r *http.Request) {
	products, err := repository.WishlistProducts(r.Context(), s.DB, middleware.UserID(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (s *Server) addWishlistItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if !s.activeProduct(w, r, productID) {
		return
	}
	if err := repository.AddWishlistItem(r.Context(), s.DB, middleware.UserID(r.Context()), productID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.getWishlist(w, r)
}

func (s *Server) removeWishlistItem(w http.ResponseWriter, r *http.Request) {
	if err := repository.RemoveWishlistItem(r.Context(), s.DB, middleware.UserID(r.Context()), chi.URLParam(r, "productID")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.getWishlist(w, r)
}
