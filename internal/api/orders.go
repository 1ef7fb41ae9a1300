package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aurum/api/internal/middleware"
	"aurum/api/internal/order"
	"aurum/api/internal/repository"
)

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r, 20)
	orders, total, err := repository.ListOrders(r.Context(), s.DB, repository.OrderFilter{
		UserID: middleware.UserID(r.Context()),
		Status: r.URL.Query().Get("status"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pageResponse{Items: orders, Total: total, Page: page, PerPage: perPage})
}

// ownOrder loads the order only when it belongs to the caller. Other users'
// orders answer 404 so ids cannot be probed.
func (s *Server) ownOrder(w http.ResponseWriter, r *http.Request) (*repository.Order, bool) {
	o, err := s.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && o.UserID != middleware.UserID(r.Context()) {
		err = order.ErrNotFound
	}
	if err != nil {
		respondDomainError(w, r, err)
		return nil, false
	}
	return o, true
}

func (s *Server) getMyOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// cancelMyOrder lets a customer abandon an order that has not been paid.
func (s *Server) cancelMyOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	if o.Status != order.StatusPending {
		respondError(w, http.StatusConflict, "only pending orders can be cancelled; contact us for a refund")
		return
	}
	o, err := s.Orders.Transition(r.Context(), o.ID, order.StatusCancelled, order.SourceCustomer, "cancelled by customer")
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// trackingView is the order as shown to anyone holding its tracking token.
type trackingView struct {
	Number         string                    `json:"number"`
	Status         string                    `json:"status"`
	PaymentStatus  string                    `json:"paymentStatus"`
	TrackingNumber string                    `json:"trackingNumber,omitempty"`
	Currency       string                    `json:"currency"`
	TotalCents     int64                     `json:"totalCents"`
	Items          []trackingItem            `json:"items"`
	History        []repository.StatusChange `json:"history"`
	CreatedAt      time.Time                 `json:"createdAt"`
}

type trackingItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (s *Server) trackedOrder(w http.ResponseWriter, r *http.Request) (*repository.Order, bool) {
	id, ok := s.Tracker.Verify(r.URL.Query().Get("token"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown tracking token")
		return nil, false
	}
	o, err := s.Orders.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return nil, false
	}
	return o, true
}

func (s *Server) trackOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.trackedOrder(w, r)
	if !ok {
		return
	}
	view := trackingView{
		Number:         o.Number,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		TrackingNumber: o.TrackingNumber,
		Currency:       o.Currency,
		TotalCents:     o.TotalCents,
		CreatedAt:      o.CreatedAt,
		Items:          make([]trackingItem, 0, len(o.Items)),
		History:        make([]repository.StatusChange, 0, len(o.History)),
	}
	for _, it := range o.Items {
		view.Items = append(view.Items, trackingItem{Name: it.Name, Quantity: it.Quantity})
	}
	// Notes are internal.
	for _, h := range o.History {
		view.History = append(view.History, repository.StatusChange{Status: h.Status, At: h.At})
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) trackingQR(w http.ResponseWriter, r *http.Request) {
	o, ok := s.trackedOrder(w, r)
	if !ok {
		return
	}
	png, err := s.Tracker.PNG(o.ID, 256)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(png)
}

func (s *Server) adminListOrders(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r, 50)
	status := r.URL.Query().Get("status")
	if status != "" && !order.ValidStatus(status) {
		respondError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}
	orders, total, err := repository.ListOrders(r.Context(), s.DB, repository.OrderFilter{
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pageResponse{Items: orders, Total: total, Page: page, PerPage: perPage})
}

type adminOrderView struct {
	*repository.Order
	Payments []repository.Payment `json:"payments"`
}

func (s *Server) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	payments, err := repository.PaymentsByOrder(r.Context(), s.DB, o.ID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if payments == nil {
		payments = []repository.Payment{}
	}
	respondJSON(w, http.StatusOK, adminOrderView{Order: o, Payments: payments})
}

type transitionRequest struct {
	Status         string `json:"status" validate:"required"`
	Note           string `json:"note" validate:"max=500"`
	TrackingNumber string `json:"trackingNumber" validate:"max=80"`
}

// adminTransition moves an order along the state machine. Cancelling a paid
// order and refunding go through the provider first.
func (s *Server) adminTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	to := strings.ToLower(req.Status)
	var (
		o   *repository.Order
		err error
	)
	switch to {
	case order.StatusCancelled:
		o, err = s.Orders.Cancel(r.Context(), id, order.SourceAdmin, req.Note)
	case order.StatusRefunded:
		o, err = s.Orders.Refund(r.Context(), id, order.SourceAdmin, req.Note)
	default:
		o, err = s.Orders.Transition(r.Context(), id, to, order.SourceAdmin, req.Note, order.WithTrackingNumber(req.TrackingNumber))
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) adminRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note" validate:"max=500"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := s.Orders.Refund(r.Context(), chi.URLParam(r, "id"), order.SourceAdmin, req.Note)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type statsView struct {
	*repository.OrderStats
	Currency       string `json:"currency"`
	PendingEmails  int    `json:"pendingEmails"`
	ProductsOnSale int    `json:"productsOnSale"`
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	st, err := repository.Stats(r.Context(), s.DB)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	pending, err := repository.PendingMessageCount(r.Context(), s.DB)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	_, onSale, err := repository.ListProducts(r.Context(), s.DB, repository.ProductFilter{Limit: 1})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statsView{OrderStats: st, Currency: s.Config.Currency, PendingEmails: pending, ProductsOnSale: onSale})
}

type couponRequest struct {
	Code             string    `json:"code" validate:"required,alphanum,max=40"`
	Kind             string    `json:"kind" validate:"required,oneof=percent fixed"`
	Value            int64     `json:"value" validate:"gt=0"`
	MinSubtotalCents int64     `json:"minSubtotalCents" validate:"min=0"`
	MaxUses          int       `json:"maxUses" validate:"min=0"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Active           *bool     `json:"active"`
}

func (s *Server) adminCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Kind == "percent" && req.Value > 100 {
		respondError(w, http.StatusBadRequest, "percent coupons cannot exceed 100")
		return
	}
	if _, err := repository.CouponByCode(r.Context(), s.DB, req.Code); err == nil {
		respondError(w, http.StatusConflict, "coupon code already exists")
		return
	}
	c := repository.Coupon{
		Code:             req.Code,
		Kind:             req.Kind,
		Value:            req.Value,
		MinSubtotalCents: req.MinSubtotalCents,
		MaxUses:          req.MaxUses,
		ExpiresAt:        req.ExpiresAt,
		Active:           req.Active == nil || *req.Active,
	}
	if err := repository.CreateCoupon(r.Context(), s.DB, &c); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) adminReconcile(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Reconciler.RunOnce(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}
