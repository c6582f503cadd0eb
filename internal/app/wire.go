package app

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teeline/settlement/internal/auth"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/handler"
	"github.com/teeline/settlement/internal/pipeline"
	"github.com/teeline/settlement/internal/projection"
	"github.com/teeline/settlement/internal/provider"
	"github.com/teeline/settlement/internal/repository"
	"github.com/teeline/settlement/internal/service"
	"github.com/teeline/settlement/internal/settlement"
)

// Services holds the pipeline components. They share one claim registry so manual
// triggers and scheduled runs never work the same round at once.
type Services struct {
	Results      *service.ResultService
	Ingestion    *service.IngestionService
	Engine       *settlement.Engine
	Reversals    *settlement.ReversalService
	Orchestrator *pipeline.Orchestrator
	Runs         *projection.RunHistory
}

// NewServices wires the pipeline over store and feed. Run reports are kept in runStore.
func NewServices(store repository.Store, feed provider.LiveScoreGateway, runStore projection.Store, cfg pipeline.Config, logger *slog.Logger) (*Services, error) {
	claims := guard.NewRoundClaims()

	detector := service.NewDetector(store, feed, logger)
	ingestion := service.NewIngestionService(store, feed, claims, logger)
	engine := settlement.NewEngine(store, claims, logger)

	orch, err := pipeline.NewOrchestrator(detector, ingestion, engine, cfg, logger)
	if err != nil {
		return nil, err
	}
	runs := projection.NewRunHistory(runStore)
	orch.SetRecorder(runs)

	return &Services{
		Results:      service.NewResultService(store, logger),
		Ingestion:    ingestion,
		Engine:       engine,
		Reversals:    settlement.NewReversalService(store, logger),
		Orchestrator: orch,
		Runs:         runs,
	}, nil
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Store    repository.Store
	Services *Services
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger

	CORSOrigins string
	// Manual triggers allowed per operator per window. Zero disables throttling.
	TriggerLimit  int
	TriggerWindow time.Duration
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	jwtMgr := deps.JWTMgr
	logger := deps.Logger
	svcs := deps.Services

	resultHandler := handler.NewResultHandler(svcs.Results)
	roundHandler := handler.NewRoundHandler(svcs.Ingestion, svcs.Engine, svcs.Orchestrator)
	parlayHandler := handler.NewParlayHandler(svcs.Reversals)
	pipelineHandler := handler.NewPipelineHandler(svcs.Orchestrator, svcs.Runs)

	triggerLimiter := guard.NewRateLimiter(deps.TriggerLimit, deps.TriggerWindow)

	origins := deps.CORSOrigins
	if origins == "" {
		origins = "*"
	}

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(origins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.Store))

	// Operator-authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.AuthenticateOperator(jwtMgr))

		r.Get("/results", resultHandler.List)
		r.Get("/pipeline/status", pipelineHandler.Status)
		r.Get("/pipeline/runs/{id}", pipelineHandler.GetRun)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.WriteRoles()...))

			r.Put("/results", resultHandler.Save)
			r.Delete("/results/{id}", resultHandler.Delete)

			r.Post("/parlays/{id}/reverse", parlayHandler.Reverse)

			r.Put("/pipeline/config", pipelineHandler.Configure)
			r.Post("/pipeline/start", pipelineHandler.Start)
			r.Post("/pipeline/stop", pipelineHandler.Stop)
			r.Post("/pipeline/reset", pipelineHandler.Reset)

			// Manual triggers
			r.Group(func(r chi.Router) {
				r.Use(handler.Throttle(triggerLimiter))
				r.Post("/pipeline/run", pipelineHandler.Run)
				r.Post("/rounds/{tournamentID}/{round}/ingest", roundHandler.Ingest)
				r.Post("/rounds/{tournamentID}/{round}/settle", roundHandler.Settle)
			})
		})
	})

	return r
}
