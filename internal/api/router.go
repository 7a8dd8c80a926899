package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/procuredata/console/internal/api/handlers"
	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/catalog"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/health"
	"github.com/procuredata/console/internal/ids"
	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/store"
)

type Config struct {
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Fiware        *fiware.Client
	Adapter       *ngsi.Adapter
	Catalog       *catalog.Service
	Approval      *approval.Service
	Store         store.PrimaryStore
	Publisher     *ids.Publisher
	HealthChecker *health.HealthChecker
	Observability *observability.Manager
	RateLimiter   *security.RateLimiter
	Sanitizer     *security.InputSanitizer
	// Verifier checks bearer tokens. Nil trusts X-User-ID.
	Verifier middleware.TokenVerifier
}

type Router struct {
	deps   Dependencies
	config Config

	fiwareHandler      *handlers.FiwareHandler
	entityHandler      *handlers.EntityHandler
	identityHandler    *handlers.IdentityHandler
	connectorHandler   *handlers.ConnectorHandler
	assetHandler       *handlers.AssetHandler
	transactionHandler *handlers.TransactionHandler
	dashboardHandler   *handlers.DashboardHandler
}

func NewRouter(deps Dependencies, config Config) *Router {
	if deps.Observability == nil {
		deps.Observability = observability.NewNopManager()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"https://*", "http://*"}
	}
	logger := deps.Observability.Logger().GetZerologLogger()

	return &Router{
		deps:               deps,
		config:             config,
		fiwareHandler:      handlers.NewFiwareHandler(deps.Fiware),
		entityHandler:      handlers.NewEntityHandler(deps.Fiware, deps.Adapter, deps.Sanitizer),
		identityHandler:    handlers.NewIdentityHandler(deps.Fiware),
		connectorHandler:   handlers.NewConnectorHandler(deps.Fiware, deps.Publisher),
		assetHandler:       handlers.NewAssetHandler(deps.Catalog, deps.Approval),
		transactionHandler: handlers.NewTransactionHandler(deps.Approval),
		dashboardHandler:   handlers.NewDashboardHandler(deps.Approval, deps.Store, deps.Fiware, logger),
	}
}

// SetupRoutes builds the handler tree.
func (r *Router) SetupRoutes() http.Handler {
	obs := r.deps.Observability
	logger := obs.Logger().GetZerologLogger()

	router := chi.NewRouter()

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler())
	router.Use(obs.Tracing().TraceMiddleware())
	router.Use(obs.Metrics().MetricsMiddleware())

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: r.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.HeaderUserID, middleware.HeaderOrganizationID,
		},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Use(chiMiddleware.Timeout(r.config.RequestTimeout))
	if r.deps.RateLimiter != nil {
		router.Use(r.deps.RateLimiter.RateLimitMiddleware())
	}

	router.Get("/health", r.healthCheck)
	router.Get("/ready", r.readinessCheck)
	router.Handle("/metrics", obs.Metrics().Handler())

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Authenticate(r.deps.Verifier, logger))

		api.Route("/fiware", func(fr chi.Router) {
			fr.Post("/proxy", r.fiwareHandler.Proxy)
			fr.Get("/health", r.fiwareHandler.Health)
		})

		api.Route("/entities", func(er chi.Router) {
			er.Get("/", r.entityHandler.ListEntities)
			er.Post("/{entityType}", r.entityHandler.CreateEntity)
			er.Route("/{entityID}", func(ir chi.Router) {
				ir.Get("/", r.entityHandler.GetEntity)
				ir.Delete("/", r.entityHandler.DeleteEntity)
				ir.Patch("/attrs", r.entityHandler.UpdateAttributes)
			})
		})

		api.Route("/identity", func(ir chi.Router) {
			ir.Get("/users", r.identityHandler.ListUsers)
			ir.Post("/users", r.identityHandler.CreateUser)
		})

		api.Route("/connector", func(cr chi.Router) {
			cr.Get("/resources", r.connectorHandler.ListResources)
			cr.Post("/resources", r.connectorHandler.Publish)
			cr.Get("/published", r.connectorHandler.PublishedResources)
			cr.Get("/offers", r.connectorHandler.ListOffers)
			cr.Post("/policies", r.connectorHandler.BuildPolicy)
		})

		api.Route("/assets", func(ar chi.Router) {
			ar.Get("/", r.assetHandler.ListAssets)
			ar.Post("/", r.assetHandler.RegisterAsset)
			ar.Route("/{assetID}", func(ir chi.Router) {
				ir.Get("/", r.assetHandler.GetAsset)
				ir.Post("/requests", r.assetHandler.RequestAccess)
			})
		})

		api.Route("/transactions", func(tr chi.Router) {
			tr.Get("/", r.transactionHandler.ListTransactions)
			tr.Route("/{transactionID}", func(ir chi.Router) {
				ir.Get("/", r.transactionHandler.GetTransaction)
				ir.Post("/submit", r.transactionHandler.Submit)
				ir.Post("/approve", r.transactionHandler.Approve)
				ir.Post("/reject", r.transactionHandler.Reject)
			})
		})

		api.Get("/dashboard/stats", r.dashboardHandler.Stats)
	})

	return router
}

func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	if r.deps.HealthChecker == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    health.StatusHealthy,
			"timestamp": time.Now().UTC(),
		})
		return
	}

	systemHealth := r.deps.HealthChecker.Check(req.Context())
	statusCode := http.StatusOK
	if systemHealth.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, statusCode, systemHealth)
}

// readinessCheck only fails when the primary store is unreachable. A
// FIWARE backend in standby does not make the console unready.
func (r *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store != nil {
		if err := r.deps.Store.Ping(req.Context()); err != nil {
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  "primary store unreachable",
			})
			return
		}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}
