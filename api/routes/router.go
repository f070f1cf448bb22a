package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medisync-labs/medisync-backend/api/controllers"
	webhookcontrollers "github.com/medisync-labs/medisync-backend/api/controllers/webhooks"
	"github.com/medisync-labs/medisync-backend/api/middleware"
	renewalsvc "github.com/medisync-labs/medisync-backend/internal/renewals"
	subscriptionsvc "github.com/medisync-labs/medisync-backend/internal/subscriptions"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	razorpaywebhook "github.com/medisync-labs/medisync-backend/internal/webhooks/razorpay"
	"github.com/medisync-labs/medisync-backend/pkg/config"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
	pkgredis "github.com/medisync-labs/medisync-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer uses for
// idempotency replay and rate limiting. A nil store disables both.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RouterParams carries everything the HTTP surface needs. The cmd binary owns
// construction; the router only arranges middleware and handlers.
type RouterParams struct {
	Config              *config.Config
	Logger              *logger.Logger
	Redis               RedisStore
	Gateway             *razorpay.Client
	RenewalService      renewalsvc.Service
	VerificationService verification.Service
	SubscriptionService subscriptionsvc.Service
	WebhookService      *razorpaywebhook.Service
	WebhookGuard        *razorpaywebhook.EventGuard
	MetricsRegistry     *prometheus.Registry
	ReadinessProbes     []controllers.ReadinessProbe
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	verifyPolicy := middleware.NewRateLimitPolicy(
		"verify",
		cfg.RateLimit.VerifyWindow,
		cfg.RateLimit.VerifyIPLimit,
		cfg.RateLimit.VerifyHospitalLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy(
		"webhook",
		cfg.RateLimit.WebhookWindow,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.ReadinessProbes...))
	})

	if params.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, params.Redis, logg))
		r.Post("/razorpay", webhookcontrollers.RazorpayWebhook(params.WebhookService, params.Gateway, params.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.HospitalContext(logg))
		r.Use(middleware.Idempotency(params.Redis, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/current", controllers.SubscriptionCurrent(params.SubscriptionService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRoles(logg, enums.StaffRoleOwner, enums.StaffRoleAdmin, enums.StaffRoleBilling))

			r.Route("/renewals", func(r chi.Router) {
				r.Post("/", controllers.RenewalInitiate(params.RenewalService, gatewayKeyID(params.Gateway), logg))
				r.Post("/preview", controllers.RenewalPreview(params.RenewalService, logg))
				r.Get("/", controllers.RenewalHistory(params.RenewalService, logg))
				r.Get("/{attemptID}", controllers.RenewalGet(params.RenewalService, logg))
			})

			r.With(middleware.RateLimit(verifyPolicy, params.Redis, logg)).
				Post("/payments/verify", controllers.PaymentVerify(params.VerificationService, logg))
		})
	})

	return r
}

func gatewayKeyID(gateway *razorpay.Client) string {
	if gateway == nil {
		return ""
	}
	return gateway.KeyID()
}
