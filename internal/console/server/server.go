package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/capgov/internal/console/handler"
	"github.com/xela07ax/capgov/internal/infra/auth"
)

// Server is the governance console API: proposals, policy, quotas, the intake
// review queue and the audit surface, behind one RS256-validated perimeter.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	authValidator auth.TokenValidator
	registry      *prometheus.Registry

	proposals *handler.ProposalHandler
	policy    *handler.PolicyHandler
	quotas    *handler.QuotaHandler
	audits    *handler.AuditHandler
	intakes   *handler.IntakeHandler
}

func New(
	logger *zap.Logger,
	validator auth.TokenValidator,
	registry *prometheus.Registry,
	proposals *handler.ProposalHandler,
	policy *handler.PolicyHandler,
	quotas *handler.QuotaHandler,
	audits *handler.AuditHandler,
	intakes *handler.IntakeHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		registry:      registry,
		proposals:     proposals,
		policy:        policy,
		quotas:        quotas,
		audits:        audits,
		intakes:       intakes,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public: liveness and metrics.
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.registry != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		}
	})

	// Everything else requires a valid identity-provider token.
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/proposals", func(r chi.Router) {
			r.Get("/", s.proposals.List)
			r.Post("/", s.proposals.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.proposals.Get)
				r.Post("/approve", s.proposals.Approve)
				r.Post("/reject", s.proposals.Reject)
				r.Post("/reopen", s.proposals.Reopen)
				r.Post("/execute", s.proposals.Execute)
				r.Post("/dry-run", s.proposals.DryRun)
				r.Post("/rollback", s.proposals.Rollback)
			})
		})

		r.Route("/v1/policy", func(r chi.Router) {
			r.Get("/", s.policy.GetState)
			r.Post("/kill-switch", s.policy.SetKillSwitch)
			r.Post("/exemptions", s.policy.CreateExemption)
			r.Post("/exemptions/{id}/revoke", s.policy.RevokeExemption)
		})

		r.Route("/v1/quotas", func(r chi.Router) {
			r.Get("/", s.quotas.List)
			r.Post("/reset", s.quotas.Reset)
		})

		r.Route("/v1/intake", func(r chi.Router) {
			r.Get("/queue", s.intakes.Queue)
			r.Post("/overrides", s.intakes.Override)
		})

		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.audits.List)
			r.Get("/export", s.audits.Export)
		})
	})
}

// ServeHTTP lets the Server plug into a standard http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
