package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chamahq/journey/internal/approval"
	"github.com/chamahq/journey/internal/config"
	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Authenticate func(http.Handler) http.Handler
	Resolver     *journey.Resolver
	Engine       *journey.Engine
	Gate         *approval.Gate
	Definitions  *definition.Service
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Global middleware, applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(observability.TracingMiddleware)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/v1/commands", handleCommand(deps.Resolver, deps.Metrics, logger))

		r.Get("/v1/instances", handleInstanceList(deps.Engine))
		r.Get("/v1/instances/{instanceId}", handleInstanceGet(deps.Engine))
		r.Get("/v1/instances/{instanceId}/log", handleInstanceLog(deps.Engine))
		r.Get("/v1/instances/{instanceId}/log/latest", handleInstanceLogLatest(deps.Engine))
		r.Delete("/v1/instances/{instanceId}", handleInstanceDelete(deps.Engine))
		r.Get("/v1/members/{memberId}/journeys/{journeyCode}", handleInstanceByMember(deps.Engine))
		r.Get("/v1/transitions", handleTransitionSearch(deps.Engine))

		r.Get("/v1/approvals", handleApprovalList(deps.Gate))
		r.Get("/v1/approvals/{requestId}", handleApprovalGet(deps.Gate))
		r.Post("/v1/approvals/{requestId}/resolve", handleApprovalResolve(deps.Gate))
		r.Post("/v1/webhooks/board", handleBoardWebhook(deps.Gate))

		r.Get("/v1/definitions", handleDefinitionList(deps.Definitions))
		r.Post("/v1/definitions", handleDefinitionPublish(deps.Definitions, deps.Metrics))
		r.Post("/v1/definitions/{journeyCode}/versions/{version}/activate", handleDefinitionActivate(deps.Definitions))
	})

	return r
}
