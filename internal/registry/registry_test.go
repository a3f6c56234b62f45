package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendulem/distributed-print-shops/internal/models"
	"github.com/wendulem/distributed-print-shops/internal/node"
)

func newNode(id string) *node.Node {
	return node.New(&models.PrintShop{
		ID:            id,
		Name:          "Shop " + id,
		Location:      models.Location{Latitude: 37.77, Longitude: -122.42},
		Capabilities:  []models.Capability{models.CapabilityTShirt},
		DailyCapacity: 100,
	})
}

func TestAddGetRemove(t *testing.T) {
	r := New()

	n := newNode("a")
	require.NoError(t, r.Add(n))
	assert.Error(t, r.Add(newNode("a")), "duplicate ID rejected")

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, n, got)

	r.Remove("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
	r.Remove("a") // no-op
}

func TestListOrderedByID(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Add(newNode(id)))
	}

	var ids []string
	for _, n := range r.List() {
		ids = append(ids, n.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestResolveSkipsUnknown(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newNode("a")))
	require.NoError(t, r.Add(newNode("b")))

	nodes := r.Resolve([]string{"a", "ghost", "b"})
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].ID())
	assert.Equal(t, "b", nodes[1].ID())
}

func TestOnlineCount(t *testing.T) {
	r := New()
	a, b := newNode("a"), newNode("b")
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	assert.Equal(t, 2, r.OnlineCount())

	b.UpdateStatus(models.ShopStatusOffline, "heartbeat timeout")
	assert.Equal(t, 1, r.OnlineCount())
	assert.Equal(t, 2, r.Count())
}
