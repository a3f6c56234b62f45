package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/wendulem/distributed-print-shops/internal/discovery"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
	"github.com/wendulem/distributed-print-shops/internal/routing"
	"github.com/wendulem/distributed-print-shops/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zaptest.NewLogger(t)
	reg := registry.New()
	disc := discovery.New(reg, discovery.WithLogger(logger))
	router := routing.New(reg, disc, routing.WithLogger(logger))

	return New(
		Config{Host: "127.0.0.1", Port: 0, RateLimit: 1000, RateBurst: 1000},
		reg, disc, router,
		WithArchive(storage.NewMemoryArchive()),
		WithLogger(logger),
	)
}

func registerTestNode(t *testing.T, s *Server, id string, capacity int) {
	t.Helper()

	body := fmt.Sprintf(`{
		"id": %q,
		"name": "Shop %s",
		"location": {"latitude": 37.7749, "longitude": -122.4194},
		"capabilities": ["t-shirt", "mug"],
		"daily_capacity": %d
	}`, id, id, capacity)

	rec := doRequest(s, http.MethodPost, "/api/v1/nodes", []byte(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["node_count"])
}

func TestRegisterNode(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	rec := doRequest(s, http.MethodGet, "/api/v1/nodes/node-sf", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.NodeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "node-sf", summary.ID)
	assert.Equal(t, models.ShopStatusOnline, summary.Status)
	assert.Equal(t, 100, summary.Capacity.Available)
}

func TestRegisterNodeValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"name":"x","capabilities":["t-shirt"],"daily_capacity":10}`},
		{"missing capabilities", `{"id":"n1","name":"x","daily_capacity":10}`},
		{"zero capacity", `{"id":"n1","name":"x","capabilities":["t-shirt"],"daily_capacity":0}`},
		{"unknown capability", `{"id":"n1","name":"x","capabilities":["hologram"],"daily_capacity":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/api/v1/nodes", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterNodeDuplicate(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	body := `{
		"id": "node-sf",
		"name": "Shop again",
		"location": {"latitude": 37.7749, "longitude": -122.4194},
		"capabilities": ["t-shirt"],
		"daily_capacity": 50
	}`
	rec := doRequest(s, http.MethodPost, "/api/v1/nodes", []byte(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitOrder(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	body := `{
		"customer_location": {"latitude": 37.7749, "longitude": -122.4194},
		"items": [{"product_type": "t-shirt", "quantity": 30, "design_ref": "design-1"}],
		"priority": "high"
	}`
	rec := doRequest(s, http.MethodPost, "/api/v1/orders", []byte(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var result routing.RoutingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.OrderID)
	assert.Contains(t, result.NodeAssignments, "node-sf")

	// The routed order lands in the archive.
	rec = doRequest(s, http.MethodGet, "/api/v1/orders/"+result.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record storage.OrderRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, result.OrderID, record.OrderID)
	assert.Equal(t, "assigned", record.Status)
	assert.Equal(t, []string{"node-sf"}, record.NodeIDs)
}

func TestSubmitOrderNoCapacity(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 10)

	body := `{
		"customer_location": {"latitude": 37.7749, "longitude": -122.4194},
		"items": [{"product_type": "t-shirt", "quantity": 5000, "design_ref": "design-1"}]
	}`
	rec := doRequest(s, http.MethodPost, "/api/v1/orders", []byte(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result routing.RoutingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Reason)
}

func TestSubmitOrderInvalidJSON(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/orders", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 200)

	for i := 0; i < 3; i++ {
		body := `{
			"customer_location": {"latitude": 37.7749, "longitude": -122.4194},
			"items": [{"product_type": "mug", "quantity": 10, "design_ref": "design-1"}]
		}`
		rec := doRequest(s, http.MethodPost, "/api/v1/orders", []byte(body))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doRequest(s, http.MethodGet, "/api/v1/orders?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Orders []storage.OrderRecord `json:"orders"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeartbeatAndRemove(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	rec := doRequest(s, http.MethodPost, "/api/v1/nodes/node-sf/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodDelete, "/api/v1/nodes/node-sf", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/nodes/node-sf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/v1/nodes/missing/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateInventory(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	body := `{"items": {"TS-BLK-M": 20}}`
	rec := doRequest(s, http.MethodPut, "/api/v1/nodes/node-sf/inventory", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code)

	// 20 is below the default reorder point of 50.
	rec = doRequest(s, http.MethodGet, "/api/v1/network/inventory/low", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report struct {
		Nodes map[string][]models.InventoryItem `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Contains(t, report.Nodes, "node-sf")
	assert.Equal(t, "TS-BLK-M", report.Nodes["node-sf"][0].SKU)
}

func TestNetworkStatus(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)
	registerTestNode(t, s, "node-oak", 50)

	rec := doRequest(s, http.MethodGet, "/api/v1/network/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.NetworkStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 2, status.TotalNodes)
	assert.Equal(t, 2, status.OnlineNodes)

	rec = doRequest(s, http.MethodGet, "/api/v1/network/clusters", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var clusters struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clusters))
	assert.Equal(t, 1, clusters.Count)
}

func TestRoutingStats(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	body := `{
		"customer_location": {"latitude": 37.7749, "longitude": -122.4194},
		"items": [{"product_type": "t-shirt", "quantity": 10, "design_ref": "design-1"}]
	}`
	rec := doRequest(s, http.MethodPost, "/api/v1/orders", []byte(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/v1/routing/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats routing.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, 1, stats.SuccessfulRoutes)
}

func TestRateLimiting(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New()
	disc := discovery.New(reg, discovery.WithLogger(logger))
	router := routing.New(reg, disc, routing.WithLogger(logger))

	s := New(Config{Host: "127.0.0.1", RateLimit: 1, RateBurst: 2}, reg, disc, router, WithLogger(logger))

	var limited bool
	for i := 0; i < 5; i++ {
		rec := doRequest(s, http.MethodGet, "/api/v1/network/status", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "expected at least one rate limited response")

	// Health is exempt from rate limiting.
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	// Separate IPs have separate buckets.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestNodeRunsAfterRegistration(t *testing.T) {
	s := newTestServer(t)
	registerTestNode(t, s, "node-sf", 100)

	n, ok := s.registry.Get("node-sf")
	require.True(t, ok)
	assert.IsType(t, &node.Node{}, n)
}
