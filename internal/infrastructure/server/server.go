// Package server exposes positions, products, ticks and orders over REST
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"position_trader/internal/auth"
	"position_trader/internal/core"
	"position_trader/internal/infrastructure/health"
	"position_trader/internal/trading/position"
	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/telemetry"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// PositionService is the position manager surface used by the API
type PositionService interface {
	NewPosition(ctx context.Context, productID string) (string, error)
	GetPosition(id string) (position.Snapshot, bool)
	GetPositions() []position.Snapshot
}

// ProductCatalog is the reference data surface used by the API
type ProductCatalog interface {
	Product(id string) (core.Product, error)
	Products() []core.Product
}

// OrderLister returns the last open-order snapshot
type OrderLister interface {
	Orders(productID string) []core.Order
}

// Deps groups the components behind the routes
type Deps struct {
	Positions PositionService
	Products  ProductCatalog
	Ticks     core.ITickSource
	Exchange  core.IExchange
	OrderBook OrderLister
	Health    *health.HealthManager
	// Metrics adds position state and open-order counts to the health report when set
	Metrics *telemetry.MetricsHolder
	// Auth guards every route except health and the stream when set
	Auth *auth.APIKeyValidator
	// Stream serves live WebSocket updates when set
	Stream http.Handler
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreatedResponse answers position creation
type CreatedResponse struct {
	ID string `json:"id"`
}

// TickResponse is a cached tick plus its staleness
type TickResponse struct {
	core.PriceTick
	Stale bool `json:"stale"`
}

// HealthResponse is the aggregated component status
type HealthResponse struct {
	Status     string                   `json:"status"`
	Time       time.Time                `json:"time"`
	Components []health.ComponentStatus `json:"components"`
	Positions  map[string]int64         `json:"positions,omitempty"`
	OpenOrders map[string]int64         `json:"open_orders,omitempty"`
}

// Server handles the REST API
type Server struct {
	deps           Deps
	port           int
	allowedOrigins []string
	router         *mux.Router
	logger         core.ILogger
	srv            *http.Server
}

func NewServer(deps Deps, port int, allowedOrigins []string, logger core.ILogger) *Server {
	s := &Server{
		deps:           deps,
		port:           port,
		allowedOrigins: allowedOrigins,
		router:         mux.NewRouter(),
		logger:         logger.WithField("component", "api_server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	if s.deps.Stream != nil {
		s.router.Handle("/api/v1/stream", s.deps.Stream).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.deps.Auth != nil {
		api.Use(s.deps.Auth.Middleware)
	}

	api.HandleFunc("/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/{id}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/positions/{productId}", s.handleCreatePosition).Methods("POST")

	api.HandleFunc("/products", s.handleGetProducts).Methods("GET")
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods("GET")

	api.HandleFunc("/ticks/{productId}", s.handleGetTick).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
}

// Handler is the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", auth.HeaderAPIKey},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done and then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.deps.Positions.GetPositions()
	if positions == nil {
		positions = []position.Snapshot{}
	}
	respondJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.deps.Positions.GetPosition(id)
	if !ok {
		respondError(w, http.StatusNotFound, "position not found", id)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	id, err := s.deps.Positions.NewPosition(r.Context(), productID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownInstrument) {
			respondError(w, http.StatusNotFound, "unknown instrument", err.Error())
			return
		}
		s.logger.Error("Position creation failed", "product_id", productID, "error", err)
		respondError(w, http.StatusServiceUnavailable, "position not started", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (s *Server) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Products.Products())
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Products.Product(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "product not found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetTick(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	tick, ok := s.deps.Ticks.Tick(productID)
	if !ok {
		respondError(w, http.StatusNotFound, "no tick", productID)
		return
	}
	respondJSON(w, http.StatusOK, TickResponse{PriceTick: tick, Stale: s.deps.Ticks.IsStale(tick)})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.OrderBook.Orders(r.URL.Query().Get("product_id")))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.deps.Exchange.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "order not found", id)
			return
		}
		respondError(w, http.StatusBadGateway, "exchange error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Time: time.Now().UTC(), Components: []health.ComponentStatus{}}
	code := http.StatusOK
	if s.deps.Health != nil {
		resp.Components = s.deps.Health.Status()
		for _, c := range resp.Components {
			if !c.Healthy {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				break
			}
		}
	}
	if s.deps.Metrics != nil {
		resp.Positions = s.deps.Metrics.GetPositionStates()
		resp.OpenOrders = s.deps.Metrics.GetOpenOrders()
	}
	respondJSON(w, code, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}
