package builder

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

//go:embed order.schema.json
var orderSchemaJSON string

var orderSchema = mustCompileOrderSchema()

func mustCompileOrderSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("order.schema.json", strings.NewReader(orderSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add order schema: %v", err))
	}
	return compiler.MustCompile("order.schema.json")
}

// SerializeOrderJSON encodes items in the persisted order shape. An empty
// list encodes as []. An item without reason codes carries nil ReasonCodes;
// an empty slice encodes the same way and decodes back as nil.
func SerializeOrderJSON(items []domain.OrderItem) (json.RawMessage, error) {
	if items == nil {
		items = []domain.OrderItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode order json: %w", err)
	}
	return raw, nil
}

// DeserializeOrderJSON decodes a persisted order. The document must satisfy
// the order schema and every orderIndex must equal its 1-based position.
func DeserializeOrderJSON(raw json.RawMessage) ([]domain.OrderItem, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode order json: empty document")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode order json: %w", err)
	}
	if err := orderSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate order json: %w", err)
	}

	var items []domain.OrderItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode order json: %w", err)
	}
	for i, item := range items {
		if item.OrderIndex != i+1 {
			return nil, fmt.Errorf("validate order json: item %d has orderIndex %d", i, item.OrderIndex)
		}
	}
	if items == nil {
		items = []domain.OrderItem{}
	}
	return items, nil
}
