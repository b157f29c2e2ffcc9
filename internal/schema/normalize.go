package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// NormalizeResponse shapes a persisted entity for an API response: only
// exposed schema properties survive, empty values are dropped, and for
// public callers the excluded_properties_from_public_response list is
// applied, including nested sub-key stripping.
func NormalizeResponse(def EntityDef, entity map[string]any, public bool) map[string]any {
	out := make(map[string]any, len(entity))
	for key, value := range entity {
		prop, ok := def.Properties[key]
		if !ok || !prop.IsExposed() {
			continue
		}
		if IsEmptyValue(value) {
			continue
		}
		out[key] = value
	}
	if public {
		stripExcluded(out, def.ExcludedPropertiesFromPublicResponse)
	}
	return out
}

func stripExcluded(entity map[string]any, excluded []ExcludedField) {
	for _, field := range excluded {
		if len(field.Nested) == 0 {
			delete(entity, field.Key)
			continue
		}
		switch v := entity[field.Key].(type) {
		case map[string]any:
			for _, sub := range field.Nested {
				delete(v, sub)
			}
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					for _, sub := range field.Nested {
						delete(m, sub)
					}
				}
			}
		}
	}
}

// EncodeForStorage returns a copy of props with list- and map-valued
// properties serialized to JSON strings, which is how nested values live on
// graph nodes. Scalar values pass through.
func EncodeForStorage(def EntityDef, props map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for key, value := range props {
		if value == nil {
			out[key] = nil
			continue
		}
		if !needsJSONEncoding(def, key, value) {
			out[key] = value
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("schema: encode %s for storage: %w", key, err)
		}
		out[key] = string(raw)
	}
	return out, nil
}

// DecodeStoredValues reverses EncodeForStorage on a node loaded from the
// graph. Strings that are not strict JSON pass through untouched so legacy
// rows stay readable.
func DecodeStoredValues(def EntityDef, node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for key, value := range node {
		prop, declared := def.Properties[key]
		str, isString := value.(string)
		if !declared || !isString || (prop.Type != TypeList && prop.Type != TypeJSONString) {
			out[key] = value
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(str), &decoded); err != nil {
			out[key] = value
			continue
		}
		out[key] = decoded
	}
	return out
}

func needsJSONEncoding(def EntityDef, key string, value any) bool {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice:
	default:
		return false
	}
	if prop, ok := def.Properties[key]; ok {
		return prop.Type == TypeList || prop.Type == TypeJSONString
	}
	// values produced by triggers may not be declared; still store as JSON
	return true
}
