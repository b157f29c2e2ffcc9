package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValidateCreatePayload checks a create payload against the entity
// definition. Categories run in a fixed order and every offending key of a
// category is reported together; the first failing category aborts.
func ValidateCreatePayload(def EntityDef, payload map[string]any) error {
	if err := checkUnknownKeys(def, payload); err != nil {
		return err
	}
	// transient+generated keys (read-time projections) fall through to the
	// transient check so they are reported under one category
	if err := checkFlaggedKeys(def, payload, "generated", func(p PropertyDef) bool { return p.Generated && !p.Transient }); err != nil {
		return err
	}
	// transient keys are accepted only when a create-phase trigger consumes
	// them (linkage inputs like direct_ancestor_uuids); otherwise they are
	// as unwritable as generated ones
	if err := checkFlaggedKeys(def, payload, "transient", func(p PropertyDef) bool {
		return p.Transient && p.BeforeCreateTrigger == "" && p.AfterCreateTrigger == ""
	}); err != nil {
		return err
	}
	if err := checkRequiredOnCreate(def, payload); err != nil {
		return err
	}
	return checkTypes(def, payload)
}

// ValidateUpdatePayload checks an update payload. Required-on-create does not
// apply; immutable keys are rejected instead of generated ones.
func ValidateUpdatePayload(def EntityDef, payload map[string]any) error {
	if err := checkUnknownKeys(def, payload); err != nil {
		return err
	}
	if err := checkFlaggedKeys(def, payload, "immutable", func(p PropertyDef) bool { return p.Immutable }); err != nil {
		return err
	}
	if err := checkFlaggedKeys(def, payload, "transient", func(p PropertyDef) bool {
		return p.Transient && p.BeforeUpdateTrigger == "" && p.AfterUpdateTrigger == ""
	}); err != nil {
		return err
	}
	return checkTypes(def, payload)
}

func checkUnknownKeys(def EntityDef, payload map[string]any) error {
	var bad []string
	for key := range payload {
		if _, ok := def.Properties[key]; !ok {
			bad = append(bad, key)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &ValidationError{
			Category: "unknown",
			Keys:     bad,
			Detail:   fmt.Sprintf("unsupported keys in request: %s", joinKeys(bad)),
		}
	}
	return nil
}

func checkFlaggedKeys(def EntityDef, payload map[string]any, category string, flagged func(PropertyDef) bool) error {
	var bad []string
	for key := range payload {
		if prop, ok := def.Properties[key]; ok && flagged(prop) {
			bad = append(bad, key)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &ValidationError{
			Category: category,
			Keys:     bad,
			Detail:   fmt.Sprintf("%s keys are not allowed in request: %s", category, joinKeys(bad)),
		}
	}
	return nil
}

func checkRequiredOnCreate(def EntityDef, payload map[string]any) error {
	var bad []string
	for key, prop := range def.Properties {
		if !prop.RequiredOnCreate {
			continue
		}
		value, present := payload[key]
		if !present || IsEmptyValue(value) {
			bad = append(bad, key)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &ValidationError{
			Category: "required",
			Keys:     bad,
			Detail:   fmt.Sprintf("missing or empty required keys: %s", joinKeys(bad)),
		}
	}
	return nil
}

func checkTypes(def EntityDef, payload map[string]any) error {
	var bad []string
	for key, value := range payload {
		prop, ok := def.Properties[key]
		if !ok || value == nil {
			continue
		}
		if !conformsToType(prop.Type, value) {
			bad = append(bad, key)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &ValidationError{
			Category: "type",
			Keys:     bad,
			Detail:   fmt.Sprintf("keys with values of the wrong type: %s", joinKeys(bad)),
		}
	}
	return nil
}

func conformsToType(declared string, value any) bool {
	switch declared {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case json.Number:
			_, err := v.Int64()
			return err == nil
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeList:
		return reflect.ValueOf(value).Kind() == reflect.Slice
	case TypeJSONString:
		switch reflect.ValueOf(value).Kind() {
		case reflect.Map, reflect.Slice:
			return true
		}
		// already-serialized values come back as strings on read
		_, ok := value.(string)
		return ok
	}
	return true
}

// IsEmptyValue reports whether a payload value counts as absent for the
// required-on-create check.
func IsEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

func joinKeys(keys []string) string {
	return strings.Join(keys, ", ")
}
