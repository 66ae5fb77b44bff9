// Package dashboard serves the monitoring API: JSON endpoints for engine
// status, portfolio, orders and risk, plus a websocket that pushes periodic
// status updates. Endpoints under /api are protected by an API key and a
// per-client rate limit.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cryptrader/internal/engine"
	"cryptrader/internal/order"
	"cryptrader/internal/portfolio"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const broadcastInterval = 5 * time.Second

// Server is the dashboard HTTP server.
type Server struct {
	engine    *engine.Engine
	portfolio *portfolio.Portfolio
	orders    *order.Manager
	apiKey    string
	srv       *http.Server
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	clients  map[*websocket.Conn]struct{}
}

// New creates the server bound to the given port. An empty apiKey disables
// authentication, intended for local dry runs only.
func New(port int, apiKey string, eng *engine.Engine, pf *portfolio.Portfolio, orders *order.Manager) *Server {
	s := &Server{
		engine:    eng,
		portfolio: pf,
		orders:    orders,
		apiKey:    apiKey,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		limiters:  make(map[string]*rate.Limiter),
		clients:   make(map[*websocket.Conn]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	api.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.handleWS)

	s.srv = &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.broadcastLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("dashboard listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(clientIP(r)).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiter returns the per-client limiter, 10 req/s with burst 20.
func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(10), 20)
		s.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>cryptrader</title>
<style>
body { font-family: monospace; margin: 2rem; background: #111; color: #ddd; }
a { color: #6cf; }
ul { line-height: 1.8; }
</style>
</head>
<body>
<h1>cryptrader</h1>
<p>Monitoring endpoints (API key required when configured):</p>
<ul>
<li><a href="/api/status">/api/status</a> engine state</li>
<li><a href="/api/portfolio">/api/portfolio</a> balances, positions, equity</li>
<li><a href="/api/orders">/api/orders</a> active orders and history</li>
<li><a href="/api/strategies">/api/strategies</a> configured strategies</li>
<li><a href="/api/risk">/api/risk</a> VaR, ratios, correlations</li>
<li>/ws status push over websocket</li>
<li><a href="/healthz">/healthz</a> liveness</li>
</ul>
<p>Prometheus metrics are served on the metrics port at /metrics.</p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(indexHTML)); err != nil {
		log.Warn().Err(err).Msg("failed to write index page")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Status())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"totalValue":   s.portfolio.TotalValue(),
		"quoteBalance": s.portfolio.QuoteBalance(),
		"positions":    s.portfolio.Positions(),
		"realizedPnl":  s.portfolio.RealizedPnL(),
		"totalReturn":  s.portfolio.TotalReturn(),
		"performance":  s.portfolio.Performance(time.Now()),
		"equity":       s.portfolio.EquityCurve(),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	writeJSON(w, map[string]any{
		"active":  s.orders.Active(),
		"history": s.orders.History(limit),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.CancelOrder(r.Context(), id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, engine.ErrOrderNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, map[string]string{"id": id, "status": "canceled"})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Strategies())
}

func (s *Server) handleRisk(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.RiskReport())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey && r.URL.Query().Get("key") != s.apiKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("dashboard client connected")

	// Reads are discarded; the socket is push-only. Read errors signal
	// disconnect.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	payload, err := json.Marshal(map[string]any{
		"status":     s.engine.Status(),
		"totalValue": s.portfolio.TotalValue(),
		"ts":         time.Now(),
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.dropClient(c)
		}
	}
}
