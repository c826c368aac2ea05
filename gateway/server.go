package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgemind/agentforge/agent"
	"github.com/forgemind/agentforge/core"
	"github.com/forgemind/agentforge/eventstore"
	"github.com/forgemind/agentforge/modelregistry"
	"github.com/forgemind/agentforge/orchestrator"
	"github.com/forgemind/agentforge/pool"
	"github.com/forgemind/agentforge/telemetry"
)

// StageBuilder builds the fixed-shape agent lineup and seed inputs for
// one request. Prompt templates are an external collaborator (spec.md
// §1's stated non-goal); cmd/agentforge supplies the concrete builder.
type StageBuilder func(req TaskRequest) orchestrator.StageSet

// Runner is the slice of *orchestrator.Orchestrator the gateway
// depends on. Accepting the interface rather than the concrete type
// lets tests substitute a stub run without a real pool/router/LLM.
// extra carries a request's per-call model/temperature overrides
// through to every stage (agent.preferredModel / overrideFloat read
// these keys out of Inputs); a nil extra is fine.
type Runner interface {
	Run(ctx context.Context, sessionID string, stages orchestrator.StageSet, task string, extra agent.Inputs) (string, float64, int)
}

// OrchestratorFactory builds a fresh Runner bound to cfg.
type OrchestratorFactory func(cfg orchestrator.Config) Runner

// Server wires the HTTP/SSE surface to the Orchestrator, Event Store,
// and Model Registry. Construct one per process via New.
type Server struct {
	store       *eventstore.Store
	registry    *modelregistry.Registry
	pool        *pool.Pool
	buildStages StageBuilder
	newOrch     OrchestratorFactory
	baseCfg     orchestrator.Config
	outputDir   string
	corsMw      func(http.Handler) http.Handler
	logger      core.Logger

	mu      sync.Mutex
	pending map[string]TaskRequest // task_id -> not-yet-streamed request
	running map[string]func()      // session_id -> cancel for the active run

	inFlight     int64 // live count of requests inside requestTracking, for drain-wait
	shuttingDown int32 // set once by Shutdown; checked by requestTracking

	router chi.Router
}

// Config bundles Server's construction-time dependencies that aren't
// already objects in their own right.
type Config struct {
	CORS      *core.CORSConfig // nil uses core.DefaultCORSConfig (any origin allowed)
	OutputDir string
}

// New builds a Server and registers its routes. A nil logger defaults
// to a no-op. baseCfg is the default orchestrator.Config newOrch is
// expected to honor (request-level max_iterations overrides are
// applied on top of it per stream).
func New(
	store *eventstore.Store,
	registry *modelregistry.Registry,
	p *pool.Pool,
	buildStages StageBuilder,
	newOrch OrchestratorFactory,
	baseCfg orchestrator.Config,
	cfg Config,
	logger core.Logger,
) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	corsCfg := cfg.CORS
	if corsCfg == nil {
		corsCfg = core.DefaultCORSConfig()
	}

	s := &Server{
		store:       store,
		registry:    registry,
		pool:        p,
		buildStages: buildStages,
		newOrch:     newOrch,
		baseCfg:     baseCfg,
		outputDir:   cfg.OutputDir,
		corsMw:      core.CORSMiddleware(corsCfg),
		logger:      logger,
		pending:     make(map[string]TaskRequest),
		running:     make(map[string]func()),
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler, instrumented with otelhttp
// the way the teacher wraps its own server mux (telemetry/http.go).
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "gateway")
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestTracking)
	r.Use(s.corsMw)

	r.Post("/tasks", s.handleCreateTask)
	r.Get("/stream", s.handleStream)
	r.Post("/interrupt", s.handleInterrupt)
	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Post("/models/refresh", s.handleModelsRefresh)
	r.Post("/metrics/benchmark", s.handleBenchmark)

	s.router = r
}

// requestTracking counts every request and its outcome, grounded on
// the teacher's telemetry middleware convention of wrapping handlers
// rather than instrumenting each one by hand. It also maintains the
// live in-flight counter Shutdown drains against, and rejects new
// non-health requests once shutdown has begun (health stays answerable
// so a load balancer can observe the drain).
func (s *Server) requestTracking(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isShuttingDown() && r.URL.Path != "/health" {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}

		telemetry.Counter(telemetry.MetricGatewayRequests, "path", r.URL.Path, "method", r.Method)
		atomic.AddInt64(&s.inFlight, 1)
		defer atomic.AddInt64(&s.inFlight, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 400 {
			telemetry.RecordError(telemetry.MetricGatewayRequestErrors, http.StatusText(rec.status), "path", r.URL.Path)
		}
	})
}

func (s *Server) isShuttingDown() bool {
	return atomic.LoadInt32(&s.shuttingDown) != 0
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped ResponseWriter's own Flush, since
// embedding http.ResponseWriter only promotes its own methods — not
// http.Flusher's — and handleStream's SSE loop needs every write
// flushed immediately.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) trackRun(sessionID string, cancel func()) {
	s.mu.Lock()
	s.running[sessionID] = cancel
	s.mu.Unlock()
	telemetry.Gauge(telemetry.MetricGatewayStreamsActive, float64(s.runningCount()))
}

func (s *Server) untrackRun(sessionID string) {
	s.mu.Lock()
	delete(s.running, sessionID)
	s.mu.Unlock()
	telemetry.Gauge(telemetry.MetricGatewayStreamsActive, float64(s.runningCount()))
}

func (s *Server) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Interrupt cancels sessionID's active run, if any. Exposed via the
// POST /interrupt route so a client can stop a run without tearing
// down its SSE connection.
func (s *Server) Interrupt(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
