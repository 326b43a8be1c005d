package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenfund/giving-backend/api/controllers"
	webhookcontrollers "github.com/lumenfund/giving-backend/api/controllers/webhooks"
	"github.com/lumenfund/giving-backend/api/middleware"
	"github.com/lumenfund/giving-backend/internal/donations"
	"github.com/lumenfund/giving-backend/internal/ledger"
	stripewebhook "github.com/lumenfund/giving-backend/internal/webhooks/stripe"
	"github.com/lumenfund/giving-backend/pkg/config"
	"github.com/lumenfund/giving-backend/pkg/db"
	"github.com/lumenfund/giving-backend/pkg/logger"
	"github.com/lumenfund/giving-backend/pkg/metrics"
	"github.com/lumenfund/giving-backend/pkg/redis"
	"github.com/lumenfund/giving-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	donationService donations.Service,
	ledgerService ledger.Service,
	stripeClient *stripe.Client,
	stripeWebhookService *stripewebhook.Service,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *metrics.WebhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	var idempotencyStore redis.IdempotencyStore
	var cachePinger redis.Pinger
	if redisClient != nil {
		idempotencyStore = redisClient
		cachePinger = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cachePinger))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, webhookMetrics, logg))
	})

	r.Route("/api/v1/donations", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.Post("/", controllers.DonationCreate(donationService, logg))
		r.Get("/", controllers.DonationList(donationService, logg))
		r.Get("/{donationId}", controllers.DonationDetail(donationService, logg))
		r.Get("/{donationId}/transactions", controllers.DonationTransactions(ledgerService, logg))
	})

	return r
}
