package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendulem/distributed-print-shops/internal/cluster"
	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
	"github.com/wendulem/distributed-print-shops/internal/registry"
)

var (
	sanFrancisco = models.Location{Latitude: 37.7749, Longitude: -122.4194}
	oakland      = models.Location{Latitude: 37.8044, Longitude: -122.2712}
	losAngeles   = models.Location{Latitude: 34.0522, Longitude: -118.2437}
	newYork      = models.Location{Latitude: 40.7128, Longitude: -74.0060}
)

func makeNode(id string, loc models.Location, capacity int, caps ...models.Capability) *node.Node {
	if len(caps) == 0 {
		caps = []models.Capability{models.CapabilityTShirt}
	}
	return node.New(&models.PrintShop{
		ID:            id,
		Name:          "Shop " + id,
		Location:      loc,
		Capabilities:  caps,
		DailyCapacity: capacity,
	})
}

func tshirtOrder(from models.Location, qty int) *models.Order {
	return models.NewOrder(from,
		[]models.OrderItem{{ProductType: models.CapabilityTShirt, Quantity: qty}},
		models.PriorityNormal)
}

func TestScoreNodesPrefersCloserNode(t *testing.T) {
	o := New()
	nodes := []*node.Node{
		makeNode("la", losAngeles, 100),
		makeNode("oak", oakland, 100),
	}

	scored := o.ScoreNodes(nodes, tshirtOrder(sanFrancisco, 10))
	require.Len(t, scored, 2)
	assert.Equal(t, "oak", scored[0].Node.ID())
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestScoreNodesHardFilters(t *testing.T) {
	o := New()
	order := tshirtOrder(sanFrancisco, 50)

	farAway := makeNode("nyc", newYork, 100)
	wrongProduct := makeNode("mugs", oakland, 100, models.CapabilityMug)
	tooSmall := makeNode("small", oakland, 40)
	offline := makeNode("down", oakland, 100)
	offline.UpdateStatus(models.ShopStatusOffline, "heartbeat timeout")
	good := makeNode("good", oakland, 100)

	scored := o.ScoreNodes([]*node.Node{farAway, wrongProduct, tooSmall, offline, good}, order)
	require.Len(t, scored, 1)
	assert.Equal(t, "good", scored[0].Node.ID())
}

func TestScoreNodesCapacityBreaksDistanceTie(t *testing.T) {
	o := New()
	busy := makeNode("busy", oakland, 100)
	require.True(t, busy.ReserveCapacity(80))
	idle := makeNode("idle", oakland, 100)

	scored := o.ScoreNodes([]*node.Node{busy, idle}, tshirtOrder(sanFrancisco, 10))
	require.Len(t, scored, 2)
	assert.Equal(t, "idle", scored[0].Node.ID())
}

func TestInventoryScore(t *testing.T) {
	n := makeNode("sf", sanFrancisco, 100)

	noSKUs := tshirtOrder(sanFrancisco, 10)
	assert.Equal(t, 1.0, inventoryScore(n, noSKUs), "no SKU-specific items")

	withSKU := models.NewOrder(sanFrancisco, []models.OrderItem{
		{ProductType: models.CapabilityTShirt, Quantity: 10, SKU: "SKU-A"},
	}, models.PriorityNormal)

	assert.Equal(t, 0.0, inventoryScore(n, withSKU), "untracked SKU scores zero")

	n.UpdateInventory("SKU-A", 5)
	assert.InDelta(t, 0.5, inventoryScore(n, withSKU), 1e-9)

	n.UpdateInventory("SKU-A", 200)
	assert.Equal(t, 1.0, inventoryScore(n, withSKU), "coverage caps at 1")
}

func TestScoreClusters(t *testing.T) {
	reg := registry.New()

	bay := cluster.New("bay", sanFrancisco, 100, reg)
	sf := makeNode("sf-1", sanFrancisco, 100)
	require.NoError(t, reg.Add(sf))
	require.NoError(t, bay.AddNode(sf))

	la := cluster.New("la", losAngeles, 100, reg)
	laNode := makeNode("la-1", losAngeles, 100)
	require.NoError(t, reg.Add(laNode))
	require.NoError(t, la.AddNode(laNode))

	o := New()
	scored := o.ScoreClusters([]*cluster.Cluster{la, bay}, tshirtOrder(sanFrancisco, 10))
	require.Len(t, scored, 2)
	assert.Equal(t, "bay", scored[0].Cluster.ID)

	// A cluster that cannot fulfill is filtered, not just ranked last.
	mugOrder := models.NewOrder(sanFrancisco,
		[]models.OrderItem{{ProductType: models.CapabilityMug, Quantity: 5}},
		models.PriorityNormal)
	assert.Empty(t, o.ScoreClusters([]*cluster.Cluster{la, bay}, mugOrder))
}

func TestMaxDistanceOverride(t *testing.T) {
	o := New(WithMaxDistance(50))
	scored := o.ScoreNodes([]*node.Node{makeNode("la", losAngeles, 100)}, tshirtOrder(sanFrancisco, 10))
	assert.Empty(t, scored, "LA is ~347 miles from SF, past the 50 mile cutoff")
}
