package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"AgentEscrow/internal/auth"
	"AgentEscrow/internal/escrow"
	"AgentEscrow/internal/inbox"
	"AgentEscrow/internal/observability/metrics"
)

// Deliveries is the delivery query surface the admin API needs.
type Deliveries interface {
	Get(ctx context.Context, id string) (*inbox.Delivery, error)
	List(ctx context.Context, opts ...inbox.ListOption) ([]*inbox.Delivery, error)
	Stats(ctx context.Context, opts ...inbox.ListOption) (inbox.Stats, error)
}

// Escrows reconciles the on-chain and backend views of a transaction.
type Escrows interface {
	Snapshot(ctx context.Context, txID string) (escrow.Reconciliation, error)
}

// Options collects the router's dependencies.
type Options struct {
	Addr        string
	WebhookPath string
	Webhook     http.Handler
	Deliveries  Deliveries
	Escrows     Escrows
	// A nil Auth leaves the admin routes unmounted.
	Auth          *auth.Service
	EnableMetrics bool
}

// Server serves the REST API.
type Server struct {
	addr    string
	handler http.Handler
}

func NewServer(opts Options) *Server {
	return &Server{addr: opts.Addr, handler: NewRouter(opts)}
}

// Handler returns the full router.
func (s *Server) Handler() http.Handler { return s.handler }

// NewRouter builds the chi router.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.EnableMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	if opts.Webhook != nil {
		path := opts.WebhookPath
		if path == "" {
			path = "/webhook"
		}
		r.Handle(path, opts.Webhook)
	}

	if opts.Auth != nil {
		h := &handlers{deliveries: opts.Deliveries, escrows: opts.Escrows}
		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/deliveries", func(r chi.Router) {
				r.Use(opts.Auth.Middleware(auth.Guard{
					Scopes: []auth.Scope{auth.ScopeDeliveriesRead},
					Event:  "deliveries",
				}))
				r.Get("/", h.listDeliveries)
				r.Get("/stats", h.deliveryStats)
				r.Get("/{id}", h.getDelivery)
			})
			r.With(opts.Auth.Middleware(auth.Guard{
				Scopes: []auth.Scope{auth.ScopeEscrowRead},
				Event:  "escrow_snapshot",
			})).Get("/escrows/{txID}", h.escrowSnapshot)
		})
	}
	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe records route pattern, status and latency per request.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// withContext refuses requests once the root context is done.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
