package discovery

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
)

var (
	sanFrancisco = models.Location{Latitude: 37.7749, Longitude: -122.4194}
	oakland      = models.Location{Latitude: 37.8044, Longitude: -122.2712}
	losAngeles   = models.Location{Latitude: 34.0522, Longitude: -118.2437}
)

func makeNode(id string, loc models.Location, opts ...node.Option) *node.Node {
	return node.New(&models.PrintShop{
		ID:            id,
		Name:          "Shop " + id,
		Location:      loc,
		Capabilities:  []models.Capability{models.CapabilityTShirt},
		DailyCapacity: 100,
	}, opts...)
}

func TestGeographicClustering(t *testing.T) {
	reg := registry.New()
	d := New(reg, WithLogger(zaptest.NewLogger(t)))

	sfCluster, err := d.AddNode(makeNode("sf-1", sanFrancisco))
	require.NoError(t, err)

	// Oakland is ~8 miles from SF, well inside the 100 mile radius.
	oakCluster, err := d.AddNode(makeNode("oak-1", oakland))
	require.NoError(t, err)
	assert.Equal(t, sfCluster.ID, oakCluster.ID)

	// LA is ~347 miles out and forms its own cluster.
	laCluster, err := d.AddNode(makeNode("la-1", losAngeles))
	require.NoError(t, err)
	assert.NotEqual(t, sfCluster.ID, laCluster.ID)

	assert.Len(t, d.Clusters(), 2)
	assert.Equal(t, 2, sfCluster.Size())
	assert.Equal(t, 1, laCluster.Size())
}

func TestAddNodeDuplicateID(t *testing.T) {
	d := New(registry.New())
	_, err := d.AddNode(makeNode("sf-1", sanFrancisco))
	require.NoError(t, err)

	_, err = d.AddNode(makeNode("sf-1", oakland))
	assert.Error(t, err)
}

func TestRemoveNodeDeletesEmptyCluster(t *testing.T) {
	reg := registry.New()
	d := New(reg)

	_, err := d.AddNode(makeNode("sf-1", sanFrancisco))
	require.NoError(t, err)
	_, err = d.AddNode(makeNode("la-1", losAngeles))
	require.NoError(t, err)
	require.Len(t, d.Clusters(), 2)

	d.RemoveNode("la-1")
	assert.Len(t, d.Clusters(), 1)
	assert.Equal(t, 1, reg.Count())

	_, ok := d.ClusterOf("la-1")
	assert.False(t, ok)
}

func TestFindClusterForLocationIgnoresRadius(t *testing.T) {
	d := New(registry.New())
	require.Len(t, d.Clusters(), 0)
	assert.Nil(t, d.FindClusterForLocation(sanFrancisco))

	_, err := d.AddNode(makeNode("sf-1", sanFrancisco))
	require.NoError(t, err)

	// New York is thousands of miles from any cluster but still resolves.
	newYork := models.Location{Latitude: 40.7128, Longitude: -74.0060}
	c := d.FindClusterForLocation(newYork)
	require.NotNil(t, c)
	assert.True(t, c.Contains("sf-1"))
}

func TestGetNearestNodes(t *testing.T) {
	d := New(registry.New())

	la := makeNode("la-1", losAngeles)
	for _, n := range []*node.Node{makeNode("sf-1", sanFrancisco), makeNode("oak-1", oakland), la} {
		_, err := d.AddNode(n)
		require.NoError(t, err)
	}

	nearest := d.GetNearestNodes(sanFrancisco, 2)
	require.Len(t, nearest, 2)
	assert.Equal(t, "sf-1", nearest[0].ID())
	assert.Equal(t, "oak-1", nearest[1].ID())

	// Offline nodes are excluded entirely.
	la.UpdateStatus(models.ShopStatusOffline, "heartbeat timeout")
	assert.Len(t, d.GetNearestNodes(sanFrancisco, 10), 2)
}

func TestHealthCheckMarksStaleNodesOffline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := registry.New()
	d := New(reg,
		WithClock(clock),
		WithNodeTimeout(300*time.Second),
		WithLogger(zaptest.NewLogger(t)))

	fresh := makeNode("fresh", sanFrancisco, node.WithClock(clock))
	stale := makeNode("stale", oakland, node.WithClock(clock))
	for _, n := range []*node.Node{fresh, stale} {
		_, err := d.AddNode(n)
		require.NoError(t, err)
	}

	clock.Advance(301 * time.Second)
	fresh.Heartbeat()

	d.CheckNodeHealth()

	assert.Equal(t, models.ShopStatusOnline, fresh.Status())
	assert.Equal(t, models.ShopStatusOffline, stale.Status())

	statuses := stale.Summary()
	assert.NotZero(t, statuses.LastHeartbeat)

	// A later pass leaves already-offline nodes alone.
	d.CheckNodeHealth()
	assert.Equal(t, models.ShopStatusOffline, stale.Status())
}

func TestOptimizeClustersMovesNodeToCloserCluster(t *testing.T) {
	reg := registry.New()
	d := New(reg, WithLogger(zaptest.NewLogger(t)))

	// Three points on one meridian: south anchors the first cluster, mid
	// joins it at ~90 miles, north is far enough (~160 miles from south) to
	// open a second cluster that ends up closer to mid (~70 miles).
	south := models.Location{Latitude: 36.00, Longitude: -120.0}
	mid := models.Location{Latitude: 37.30, Longitude: -120.0}
	north := models.Location{Latitude: 38.32, Longitude: -120.0}

	southCluster, err := d.AddNode(makeNode("south-1", south))
	require.NoError(t, err)

	midCluster, err := d.AddNode(makeNode("mid-1", mid))
	require.NoError(t, err)
	require.Equal(t, southCluster.ID, midCluster.ID)

	northCluster, err := d.AddNode(makeNode("north-1", north))
	require.NoError(t, err)
	require.NotEqual(t, southCluster.ID, northCluster.ID)

	d.OptimizeClusters()

	// mid's best-fit cluster is now the northern one.
	c, ok := d.ClusterOf("mid-1")
	require.True(t, ok)
	assert.Equal(t, northCluster.ID, c.ID)
	assert.False(t, southCluster.Contains("mid-1"))

	// Nobody is ever stranded.
	for _, id := range []string{"south-1", "mid-1", "north-1"} {
		_, ok := d.ClusterOf(id)
		assert.True(t, ok, id)
	}
}

func TestNetworkStatus(t *testing.T) {
	d := New(registry.New())

	_, err := d.AddNode(makeNode("sf-1", sanFrancisco))
	require.NoError(t, err)
	la := makeNode("la-1", losAngeles)
	_, err = d.AddNode(la)
	require.NoError(t, err)

	la.UpdateStatus(models.ShopStatusOffline, "heartbeat timeout")

	status := d.NetworkStatus()
	assert.Equal(t, 2, status.Metrics.TotalNodes)
	assert.Equal(t, 1, status.Metrics.ActiveNodes)
	assert.Equal(t, 2, status.Metrics.TotalClusters)
	assert.Equal(t, 200, status.Metrics.TotalCapacity)
	assert.Equal(t, 100, status.Metrics.AvailableCapacity, "offline capacity excluded")
	assert.Len(t, status.Clusters, 2)
	assert.Len(t, status.Nodes, 2)
}

func TestLowInventoryReport(t *testing.T) {
	d := New(registry.New())

	n := makeNode("sf-1", sanFrancisco)
	_, err := d.AddNode(n)
	require.NoError(t, err)

	assert.Empty(t, d.LowInventoryReport())

	n.UpdateInventory("SKU-A", 10)
	report := d.LowInventoryReport()
	require.Contains(t, report, "sf-1")
	assert.Equal(t, "SKU-A", report["sf-1"][0].SKU)
}
