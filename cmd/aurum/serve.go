package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aurum/api/internal/api"
	"aurum/api/internal/checkout"
	"aurum/api/internal/config"
	"aurum/api/internal/db"
	"aurum/api/internal/graphql"
	"aurum/api/internal/mail"
	"aurum/api/internal/order"
	"aurum/api/internal/payment"
	"aurum/api/internal/paypal"
	"aurum/api/internal/qrcode"
	"aurum/api/internal/reconcile"
	"aurum/api/internal/stripe"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with the mail and reconcile workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.Close()
			return serve(ctx, cfg, d)
		},
	}
}

// app holds the wired services shared by serve and reconcile.
type app struct {
	registry   payment.Registry
	orders     *order.Service
	tracker    *qrcode.Signer
	reconciler *reconcile.Reconciler
	stripe     *stripe.Handler
	paypal     *paypal.Handler
}

func newApp(cfg *config.Config, d *db.DB) *app {
	var providers []payment.Provider
	var gw *stripe.Gateway
	var pp *paypal.Client
	if cfg.Stripe.Enabled() {
		gw = stripe.NewGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
		providers = append(providers, gw)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, Stripe disabled")
	}
	if cfg.PayPal.Enabled() {
		pp = paypal.NewClient(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.Secret, cfg.PayPal.WebhookID)
		providers = append(providers, pp)
	} else {
		log.Warn().Msg("PAYPAL_CLIENT_ID not set, PayPal disabled")
	}

	a := &app{registry: payment.NewRegistry(providers...)}
	a.orders = order.NewService(d, a.registry)
	a.tracker = qrcode.NewSigner(cfg.JWTSecret, cfg.BaseURL)
	a.reconciler = reconcile.New(d, a.orders, a.registry)
	if gw != nil {
		a.stripe = stripe.NewHandler(gw, d, a.orders)
	}
	if pp != nil {
		a.paypal = paypal.NewHandler(pp, d, a.orders)
	}
	return a
}

func newMailer(cfg *config.Config) (mail.Mailer, error) {
	if !cfg.SMTP.Enabled() {
		log.Warn().Msg("SMTP_HOST not set, emails are logged instead of sent")
		return mail.LogMailer{}, nil
	}
	return mail.NewSMTPMailer(cfg.SMTP)
}

func serve(ctx context.Context, cfg *config.Config, d *db.DB) error {
	a := newApp(cfg, d)
	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}
	dispatcher := mail.NewDispatcher(d, mailer, mail.NewRenderer(a.tracker))

	co := checkout.NewService(d, a.orders, a.registry, a.tracker, checkout.Settings{
		Currency:                   cfg.Currency,
		TaxRate:                    cfg.TaxRate,
		ShippingFlatCents:          cfg.ShippingFlatCents,
		FreeShippingThresholdCents: cfg.FreeShippingThresholdCents,
		OrderExpiry:                cfg.OrderExpiry,
	})

	srv := api.NewServer(api.Deps{
		Config:     cfg,
		DB:         d,
		Orders:     a.orders,
		Checkout:   co,
		Tracker:    a.tracker,
		Reconciler: a.reconciler,
		Stripe:     a.stripe,
		PayPal:     a.paypal,
		GraphQL:    graphql.NewHandler(d, cfg.Currency),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("db", d.Dialect.String()).
			Strs("providers", a.registry.Names()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return dispatcher.Run(ctx, cfg.OutboxInterval) })
	g.Go(func() error { return a.reconciler.Run(ctx, cfg.ReconcileInterval) })

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
