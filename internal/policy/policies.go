package policy

// DefaultAdmissionPolicy rejects orders that no node could ever serve:
// empty orders, non-positive quantities, unknown product types, and orders
// past the configured quantity ceiling.
const DefaultAdmissionPolicy = `
package printshop.admission

default allow := false

allow if count(deny) == 0

deny contains msg if {
	count(input.order.items) == 0
	msg := "order has no items"
}

deny contains msg if {
	some i
	item := input.order.items[i]
	item.quantity <= 0
	msg := sprintf("item %d has non-positive quantity", [i])
}

deny contains msg if {
	some i
	item := input.order.items[i]
	not supported(item.product_type)
	msg := sprintf("unsupported product type %q", [item.product_type])
}

deny contains msg if {
	total := sum([item.quantity | some item in input.order.items])
	total > input.limits.max_order_quantity
	msg := sprintf("total quantity %d exceeds limit %d", [total, input.limits.max_order_quantity])
}

supported(p) if {
	some s in input.limits.supported_products
	s == p
}
`
