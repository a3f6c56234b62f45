package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCapability(t *testing.T) {
	shop := &PrintShop{
		ID:           "sf-1",
		Capabilities: []Capability{CapabilityTShirt, CapabilitySticker},
	}

	assert.True(t, shop.HasCapability(CapabilityTShirt))
	assert.False(t, shop.HasCapability(CapabilityMug))
}

func TestInventoryItemThresholds(t *testing.T) {
	item := InventoryItem{SKU: "SKU-A", Quantity: 50, ReorderPoint: 50, MaxQuantity: 1000}

	assert.True(t, item.NeedsReorder(), "at the reorder point counts as low")
	assert.Equal(t, 950, item.SpaceAvailable())

	item.Quantity = 51
	assert.False(t, item.NeedsReorder())
}
