// Package policy evaluates order admission rules with Open Policy Agent.
// Admission runs before any routing tier so impossible orders are rejected
// cheaply without touching node state.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/wendulem/distributed-print-shops/internal/models"
)

// admissionQuery is the document the engine evaluates per order.
const admissionQuery = "data.printshop.admission"

// Limits are operator-tunable bounds fed to the policy as input.
type Limits struct {
	MaxOrderQuantity int `json:"max_order_quantity"`
}

// DefaultLimits returns the default admission bounds.
func DefaultLimits() Limits {
	return Limits{MaxOrderQuantity: 10000}
}

// Decision is the outcome of admission evaluation.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// Engine evaluates the admission policy. The prepared query is rebuilt only
// when the policy module changes.
type Engine struct {
	mu       sync.RWMutex
	module   string
	prepared rego.PreparedEvalQuery
	limits   Limits
}

// NewEngine compiles the default admission policy.
func NewEngine(limits Limits) (*Engine, error) {
	e := &Engine{limits: limits}
	if err := e.SetPolicy(DefaultAdmissionPolicy); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPolicy replaces the admission module, validating it by compilation.
func (e *Engine) SetPolicy(module string) error {
	prepared, err := rego.New(
		rego.Query(admissionQuery),
		rego.Module("admission.rego", module),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("invalid admission policy: %w", err)
	}

	e.mu.Lock()
	e.module = module
	e.prepared = prepared
	e.mu.Unlock()
	return nil
}

// Admit evaluates the admission policy against an order.
func (e *Engine) Admit(ctx context.Context, order *models.Order) (Decision, error) {
	input, err := e.buildInput(order)
	if err != nil {
		return Decision{}, err
	}

	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	rs, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("admission evaluation failed: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("admission policy produced no result")
	}

	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("admission policy produced unexpected document type %T",
			rs[0].Expressions[0].Value)
	}

	decision := Decision{}
	if allowed, ok := doc["allow"].(bool); ok {
		decision.Allowed = allowed
	}
	if denials, ok := doc["deny"].([]interface{}); ok {
		for _, d := range denials {
			if msg, ok := d.(string); ok {
				decision.Reasons = append(decision.Reasons, msg)
			}
		}
	}
	sort.Strings(decision.Reasons)
	return decision, nil
}

// buildInput assembles the policy input document: the order itself plus the
// configured limits and the supported product catalogue.
func (e *Engine) buildInput(order *models.Order) (map[string]interface{}, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order for policy input: %w", err)
	}
	var orderDoc map[string]interface{}
	if err := json.Unmarshal(raw, &orderDoc); err != nil {
		return nil, fmt.Errorf("failed to decode order for policy input: %w", err)
	}
	// A nil item slice encodes as JSON null; the policy counts items, so it
	// must always see an array.
	if orderDoc["items"] == nil {
		orderDoc["items"] = []interface{}{}
	}

	products := make([]string, 0, len(models.AllCapabilities))
	for _, c := range models.AllCapabilities {
		products = append(products, string(c))
	}

	e.mu.RLock()
	limits := e.limits
	e.mu.RUnlock()

	return map[string]interface{}{
		"order": orderDoc,
		"limits": map[string]interface{}{
			"max_order_quantity": limits.MaxOrderQuantity,
			"supported_products": products,
		},
	}, nil
}
