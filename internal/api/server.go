// Package api wires the storefront's HTTP surface onto a chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aurum/api/internal/checkout"
	"aurum/api/internal/config"
	"aurum/api/internal/db"
	"aurum/api/internal/middleware"
	"aurum/api/internal/order"
	"aurum/api/internal/paypal"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/reconcile"
	"aurum/api/internal/stripe"
)

// Deps are the services the handlers call. Stripe, PayPal and GraphQL are
// optional; their routes are not mounted when nil.
type Deps struct {
	Config     *config.Config
	DB         *db.DB
	Orders     *order.Service
	Checkout   *checkout.Service
	Tracker    *qrcode.Signer
	Reconciler *reconcile.Reconciler
	Stripe     *stripe.Handler
	PayPal     *paypal.Handler
	GraphQL    http.Handler
}

type Server struct {
	Deps
	limiter *middleware.RateLimiter
	now     func() time.Time
}

func NewServer(d Deps) *Server {
	return &Server{
		Deps:    d,
		limiter: middleware.NewRateLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst),
		now:     time.Now,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(s.Config.CORSOrigins))
	r.Use(middleware.Auth(s.Config.JWTSecret))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())
	if s.GraphQL != nil {
		r.Handle("/graphql", s.GraphQL)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Handler)
			r.Post("/auth/register", s.register)
			r.Post("/auth/login", s.login)
			r.Post("/checkout/quote", s.quote)
			r.Post("/checkout", s.placeOrder)
			r.Post("/contact", s.contact)
		})
		r.With(middleware.RequireUser).Get("/me", s.me)

		r.Get("/categories", s.listCategories)
		r.Get("/products", s.listProducts)
		r.Get("/products/{slug}", s.getProduct)

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/", s.getCart)
			r.Delete("/", s.clearCart)
			r.Post("/items", s.addCartItem)
			r.Put("/items/{productID}", s.setCartItem)
			r.Delete("/items/{productID}", s.removeCartItem)
		})
		r.Route("/wishlist", func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/", s.getWishlist)
			r.Post("/{productID}", s.addWishlistItem)
			r.Delete("/{productID}", s.removeWishlistItem)
		})

		if s.Stripe != nil {
			r.Post("/checkout/stripe/confirm", s.Stripe.Confirm)
			r.Post("/webhooks/stripe", s.Stripe.Webhook)
		}
		if s.PayPal != nil {
			r.Post("/checkout/paypal/capture", s.PayPal.Capture)
			r.Post("/webhooks/paypal", s.PayPal.Webhook)
		}

		r.Get("/orders/track", s.trackOrder)
		r.Get("/orders/track/qr.png", s.trackingQR)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/orders", s.listMyOrders)
			r.Get("/orders/{id}", s.getMyOrder)
			r.Post("/orders/{id}/cancel", s.cancelMyOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/orders", s.adminListOrders)
			r.Get("/orders/{id}", s.adminGetOrder)
			r.Post("/orders/{id}/status", s.adminTransition)
			r.Post("/orders/{id}/refund", s.adminRefund)
			r.Post("/products", s.adminCreateProduct)
			r.Put("/products/{id}", s.adminUpdateProduct)
			r.Delete("/products/{id}", s.adminDeleteProduct)
			r.Post("/categories", s.adminCreateCategory)
			r.Post("/coupons", s.adminCreateCoupon)
			r.Get("/stats", s.adminStats)
			if s.Reconciler != nil {
				r.Post("/reconcile", s.adminReconcile)
			}
		})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
