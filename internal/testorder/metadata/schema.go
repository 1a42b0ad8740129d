package metadata

import (
	"encoding/json"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const maxSchemaDepth = 32

// parseSchema decodes a stored schema fragment into the openapi3 tree.
// Empty or malformed fragments yield nil; the heuristics treat them as
// carrying no references.
func parseSchema(raw json.RawMessage) *openapi3.SchemaRef {
	if len(raw) == 0 {
		return nil
	}
	var ref openapi3.SchemaRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil
	}
	return &ref
}

// schemaNames returns the named types a schema refers to: the last segment of
// every $ref plus the title of titled object schemas.
func schemaNames(raw json.RawMessage) map[string]struct{} {
	names := make(map[string]struct{})
	walkSchema(parseSchema(raw), 0, func(ref *openapi3.SchemaRef) {
		if name := refName(ref.Ref); name != "" {
			names[name] = struct{}{}
		}
		if ref.Value != nil && ref.Value.Title != "" {
			names[ref.Value.Title] = struct{}{}
		}
	})
	return names
}

// propertyNames returns every property name declared anywhere in the schema,
// lower-cased.
func propertyNames(raw json.RawMessage) map[string]struct{} {
	names := make(map[string]struct{})
	walkSchema(parseSchema(raw), 0, func(ref *openapi3.SchemaRef) {
		if ref.Value == nil {
			return
		}
		for name := range ref.Value.Properties {
			names[strings.ToLower(name)] = struct{}{}
		}
	})
	return names
}

func walkSchema(ref *openapi3.SchemaRef, depth int, visit func(*openapi3.SchemaRef)) {
	if ref == nil || depth > maxSchemaDepth {
		return
	}
	visit(ref)
	s := ref.Value
	if s == nil {
		return
	}
	for _, prop := range s.Properties {
		walkSchema(prop, depth+1, visit)
	}
	walkSchema(s.Items, depth+1, visit)
	walkSchema(s.Not, depth+1, visit)
	walkSchema(s.AdditionalProperties.Schema, depth+1, visit)
	for _, group := range []openapi3.SchemaRefs{s.AllOf, s.OneOf, s.AnyOf} {
		for _, sub := range group {
			walkSchema(sub, depth+1, visit)
		}
	}
}

// refName extracts "User" from "#/components/schemas/User" or
// "#/definitions/User".
func refName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	return ref
}
