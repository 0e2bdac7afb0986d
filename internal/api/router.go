package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ernie/whitelister/internal/auth"
	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/service"
	"github.com/ernie/whitelister/internal/whitelist"
)

// Whitelist is the service surface the admin API needs
type Whitelist interface {
	HandleMessage(ctx context.Context, msg domain.ChatMessage) (whitelist.Outcome, bool)
	CheckLogin(ctx context.Context, id domain.LoginIdentity) (domain.LoginDecision, error)
	AddJava(ctx context.Context, username, requestedBy string) (whitelist.Outcome, error)
	AddBedrock(ctx context.Context, gamertag, xuid, requestedBy string) (whitelist.Outcome, error)
	Remove(ctx context.Context, space domain.Space, identifier string) (*domain.MemberRecord, error)
	List(ctx context.Context, space domain.Space) ([]domain.MemberRecord, error)
	Status(ctx context.Context) (service.Status, error)
	Reload(ctx context.Context) error
	Events() <-chan domain.Event
}

// BusStatus reports the adapter bus connection
type BusStatus interface {
	Connected() bool
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux   *http.ServeMux
	svc   Whitelist
	wsHub *WebSocketHub
	auth  *auth.Service

	mu    sync.RWMutex
	bus   BusStatus
	sinks []func(domain.Event)
}

// NewRouter creates a new HTTP router. gatherer may be nil to skip /metrics.
func NewRouter(svc Whitelist, authService *auth.Service, gatherer prometheus.Gatherer) *Router {
	r := &Router{
		mux:   http.NewServeMux(),
		svc:   svc,
		wsHub: NewWebSocketHub(),
		auth:  authService,
	}

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Member management (admin only)
	r.mux.HandleFunc("GET /api/members", r.requireAdmin(r.handleListMembers))
	r.mux.HandleFunc("POST /api/members", r.requireAdmin(r.handleAddMember))
	r.mux.HandleFunc("DELETE /api/members/{space}/{identifier}", r.requireAdmin(r.handleRemoveMember))

	r.mux.HandleFunc("GET /api/status", r.requireAdmin(r.handleStatus))
	r.mux.HandleFunc("POST /api/reload", r.requireAdmin(r.handleReload))

	// Adapter endpoints: same contract as the bus subjects
	r.mux.HandleFunc("POST /api/messages", r.requireAdmin(r.handleMessage))
	r.mux.HandleFunc("POST /api/login-check", r.requireAdmin(r.handleLoginCheck))

	// Live member events
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	if gatherer != nil {
		r.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// SetBus attaches the adapter bus for status reporting
func (r *Router) SetBus(b BusStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = b
}

// AddEventSink registers fn to receive every service event next to the
// WebSocket clients
func (r *Router) AddEventSink(fn func(domain.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, fn)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// Handler returns the router wrapped with gzip compression. The WebSocket
// endpoint bypasses compression since it hijacks the connection.
func (r *Router) Handler() http.Handler {
	gz := gzhttp.GzipHandler(r)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/ws" {
			r.ServeHTTP(w, req)
			return
		}
		gz.ServeHTTP(w, req)
	})
}

// StartWebSocketHub starts broadcasting service events until ctx is done
func (r *Router) StartWebSocketHub(ctx context.Context) {
	go r.wsHub.Run(ctx)

	// Forward events from the service to the hub and the sinks
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-r.svc.Events():
				r.wsHub.Broadcast(event)
				r.mu.RLock()
				sinks := r.sinks
				r.mu.RUnlock()
				for _, fn := range sinks {
					fn(event)
				}
			}
		}
	}()
}
