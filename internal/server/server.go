// Package server exposes the order routing network over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wendulem/distributed-print-shops/internal/discovery"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
	"github.com/wendulem/distributed-print-shops/internal/routing"
	"github.com/wendulem/distributed-print-shops/internal/storage"
)

// Config holds the HTTP server settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64
	RateBurst    int
}

// RateLimiter implements per-IP rate limiting.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a per-IP limiter allowing r requests per second
// with the given burst.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// Allow checks if the request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[ip] = limiter
	}
	return limiter.Allow()
}

// Server is the HTTP front end for order submission and network inspection.
type Server struct {
	cfg       Config
	registry  *registry.Registry
	discovery *discovery.Discovery
	router    *routing.Router
	archive   storage.OrderArchive
	nodeOpts  []node.Option
	logger    *zap.Logger
	limiter   *RateLimiter

	mux    *mux.Router
	server *http.Server

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// Option configures a Server.
type Option func(*Server)

// WithArchive attaches an order archive; routed orders are saved to it.
func WithArchive(archive storage.OrderArchive) Option {
	return func(s *Server) { s.archive = archive }
}

// WithNodeOptions sets the options applied to nodes registered over HTTP.
func WithNodeOptions(opts ...node.Option) Option {
	return func(s *Server) { s.nodeOpts = opts }
}

// WithLogger sets the server's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server wired to the network components.
func New(cfg Config, reg *registry.Registry, disc *discovery.Discovery, router *routing.Router, opts ...Option) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	s := &Server{
		cfg:       cfg,
		registry:  reg,
		discovery: disc,
		router:    router,
		logger:    zap.NewNop(),
		limiter:   NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		mux:       mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware, s.corsMiddleware)

	api.HandleFunc("/orders", s.submitOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.listOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/routing/stats", s.routingStatsHandler).Methods(http.MethodGet)

	api.HandleFunc("/nodes", s.registerNodeHandler).Methods(http.MethodPost)
	api.HandleFunc("/nodes", s.listNodesHandler).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}", s.getNodeHandler).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}", s.removeNodeHandler).Methods(http.MethodDelete)
	api.HandleFunc("/nodes/{id}/heartbeat", s.heartbeatHandler).Methods(http.MethodPost)
	api.HandleFunc("/nodes/{id}/inventory", s.updateInventoryHandler).Methods(http.MethodPut)

	api.HandleFunc("/network/status", s.networkStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/network/clusters", s.clustersHandler).Methods(http.MethodGet)
	api.HandleFunc("/network/inventory/low", s.lowInventoryHandler).Methods(http.MethodGet)
}

// Handler returns the configured HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the HTTP server in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server and cancels node production loops
// started through the registration endpoint.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !s.limiter.Allow(ip) {
			s.writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if colon := strings.LastIndex(ip, ":"); colon != -1 {
		ip = ip[:colon]
	}
	return ip
}

// Request and response types

// SubmitOrderRequest is the payload for POST /api/v1/orders.
type SubmitOrderRequest struct {
	CustomerLocation models.Location    `json:"customer_location"`
	Items            []models.OrderItem `json:"items"`
	Priority         string             `json:"priority,omitempty"`
}

// RegisterNodeRequest is the payload for POST /api/v1/nodes.
type RegisterNodeRequest struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Location      models.Location     `json:"location"`
	Capabilities  []models.Capability `json:"capabilities"`
	DailyCapacity int                 `json:"daily_capacity"`
	Inventory     map[string]int      `json:"inventory,omitempty"`
}

// UpdateInventoryRequest is the payload for PUT /api/v1/nodes/{id}/inventory.
type UpdateInventoryRequest struct {
	Items map[string]int `json:"items"`
}

// ErrorResponse is the API error body.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Handlers

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "printshop-network",
		"node_count": s.registry.Count(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.router == nil || s.discovery == nil {
		s.writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service not ready", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"service":   "printshop-network",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) submitOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := s.parseJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	order := models.NewOrder(req.CustomerLocation, req.Items, models.OrderPriority(req.Priority))
	result := s.router.RouteOrder(r.Context(), order)

	s.archiveOrder(r.Context(), order, &result)

	if !result.Success {
		s.writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) archiveOrder(ctx context.Context, order *models.Order, result *routing.RoutingResult) {
	if s.archive == nil {
		return
	}
	payload, err := json.Marshal(order)
	if err != nil {
		s.logger.Error("failed to encode order for archive",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	if err := s.archive.Save(ctx, storage.NewRecord(order, result, payload)); err != nil {
		// Archive failures never fail order submission.
		s.logger.Error("failed to archive order",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusNotImplemented, "ARCHIVE_DISABLED", "Order archive is not configured", nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	records, err := s.archive.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list orders", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list orders", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": records,
		"count":  len(records),
	})
}

func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeError(w, http.StatusNotImplemented, "ARCHIVE_DISABLED", "Order archive is not configured", nil)
		return
	}

	orderID := mux.Vars(r)["id"]
	record, err := s.archive.Get(r.Context(), orderID)
	if err != nil {
		if err == storage.ErrNotFound {
			s.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "Order not found", nil)
			return
		}
		s.logger.Error("failed to load order", zap.String("order_id", orderID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load order", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) routingStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.Stats())
}

func (s *Server) registerNodeHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterNodeRequest
	if err := s.parseJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	if err := validateRegisterNode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	shop := &models.PrintShop{
		ID:            req.ID,
		Name:          req.Name,
		Location:      req.Location,
		Capabilities:  req.Capabilities,
		DailyCapacity: req.DailyCapacity,
	}

	n := node.New(shop, s.nodeOpts...)
	for sku, qty := range req.Inventory {
		n.UpdateInventory(sku, qty)
	}

	clu, err := s.discovery.AddNode(n)
	if err != nil {
		s.writeError(w, http.StatusConflict, "NODE_EXISTS", "Node registration failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	go n.Run(s.nodeContext())

	s.logger.Info("node registered over HTTP",
		zap.String("node_id", n.ID()),
		zap.String("cluster_id", clu.ID))

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"node":       n.Summary(),
		"cluster_id": clu.ID,
	})
}

// nodeContext returns the context production loops of HTTP-registered nodes
// run under.
func (s *Server) nodeContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

func (s *Server) listNodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes := s.registry.List()
	summaries := make([]models.NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		summaries = append(summaries, n.Summary())
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": summaries,
		"count": len(summaries),
	})
}

func (s *Server) getNodeHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, n.Summary())
}

func (s *Server) removeNodeHandler(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["id"]
	if _, ok := s.registry.Get(nodeID); !ok {
		s.writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
		return
	}

	s.discovery.RemoveNode(nodeID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
		return
	}

	n.Heartbeat()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateInventoryHandler(w http.ResponseWriter, r *http.Request) {
	n, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil)
		return
	}

	var req UpdateInventoryRequest
	if err := s.parseJSONBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "items is required", nil)
		return
	}

	for sku, qty := range req.Items {
		n.UpdateInventory(sku, qty)
	}
	s.writeJSON(w, http.StatusOK, n.Summary())
}

func (s *Server) networkStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.discovery.NetworkStatus())
}

func (s *Server) clustersHandler(w http.ResponseWriter, r *http.Request) {
	clusters := s.discovery.Clusters()
	summaries := make([]models.ClusterSummary, 0, len(clusters))
	for _, c := range clusters {
		summaries = append(summaries, c.Summary())
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": summaries,
		"count":    len(summaries),
	})
}

func (s *Server) lowInventoryHandler(w http.ResponseWriter, r *http.Request) {
	report := s.discovery.LowInventoryReport()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": report,
		"count": len(report),
	})
}

// Utility methods

func (s *Server) parseJSONBody(r *http.Request, v interface{}) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("content-type must be application/json")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

func validateRegisterNode(req *RegisterNodeRequest) error {
	if req.ID == "" {
		return fmt.Errorf("id is required")
	}
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Capabilities) == 0 {
		return fmt.Errorf("capabilities are required")
	}
	if req.DailyCapacity <= 0 {
		return fmt.Errorf("daily_capacity must be positive")
	}
	for _, c := range req.Capabilities {
		known := false
		for _, valid := range models.AllCapabilities {
			if c == valid {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown capability: %s", c)
		}
	}
	return nil
}
