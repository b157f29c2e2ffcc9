package schema

import "gopkg.in/yaml.v3"

// Property types understood by the validation engine. json_string values are
// maps or lists serialized to a JSON string before they hit the graph store.
const (
	TypeString     = "string"
	TypeInteger    = "integer"
	TypeNumber     = "number"
	TypeBoolean    = "boolean"
	TypeList       = "list"
	TypeJSONString = "json_string"
)

// PropertyDef is one property entry under an entity type in the provenance
// schema YAML.
type PropertyDef struct {
	Type             string `yaml:"type"`
	Description      string `yaml:"description"`
	Generated        bool   `yaml:"generated"`
	Immutable        bool   `yaml:"immutable"`
	Transient        bool   `yaml:"transient"`
	RequiredOnCreate bool   `yaml:"required_on_create"`
	AutoUpdate       bool   `yaml:"auto_update"`
	Indexed          bool   `yaml:"indexed"`

	// Exposed defaults to true when omitted.
	Exposed *bool `yaml:"exposed"`

	OnReadTrigger       string `yaml:"on_read_trigger"`
	BeforeCreateTrigger string `yaml:"before_create_trigger"`
	AfterCreateTrigger  string `yaml:"after_create_trigger"`
	BeforeUpdateTrigger string `yaml:"before_update_trigger"`
	AfterUpdateTrigger  string `yaml:"after_update_trigger"`

	BeforePropertyCreateValidators []string `yaml:"before_property_create_validators"`
	BeforePropertyUpdateValidators []string `yaml:"before_property_update_validators"`
}

// IsExposed reports whether the property appears in API responses.
func (p PropertyDef) IsExposed() bool {
	return p.Exposed == nil || *p.Exposed
}

// TriggerFor returns the trigger function name bound to the given lifecycle
// event, or "" when none is declared.
func (p PropertyDef) TriggerFor(event string) string {
	switch event {
	case EventOnRead:
		return p.OnReadTrigger
	case EventBeforeCreate:
		return p.BeforeCreateTrigger
	case EventAfterCreate:
		return p.AfterCreateTrigger
	case EventBeforeUpdate:
		return p.BeforeUpdateTrigger
	case EventAfterUpdate:
		return p.AfterUpdateTrigger
	}
	return ""
}

// Lifecycle events, in the order the engine services them.
const (
	EventBeforeCreate = "before_create_trigger"
	EventAfterCreate  = "after_create_trigger"
	EventBeforeUpdate = "before_update_trigger"
	EventAfterUpdate  = "after_update_trigger"
	EventOnRead       = "on_read_trigger"
)

// Derivation declares whether entities of a type can be the source or the
// target of a derivation step in the provenance graph.
type Derivation struct {
	Source bool `yaml:"source"`
	Target bool `yaml:"target"`
}

// ExcludedField is one entry of excluded_properties_from_public_response. A
// plain key strips the whole property; a nested entry strips sub-keys from a
// map- or list-of-maps-valued property.
type ExcludedField struct {
	Key    string
	Nested []string
}

// UnmarshalYAML accepts either a scalar key or a {key: [subkeys]} mapping.
func (f *ExcludedField) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		f.Key = value.Value
		f.Nested = nil
		return nil
	}
	var nested map[string][]string
	if err := value.Decode(&nested); err != nil {
		return err
	}
	for k, v := range nested {
		f.Key = k
		f.Nested = v
		break
	}
	return nil
}

// EntityDef is one entity (or activity) type entry in the schema document.
type EntityDef struct {
	Superclass  string                 `yaml:"superclass"`
	Derivation  Derivation             `yaml:"derivation"`
	Properties  map[string]PropertyDef `yaml:"properties"`
	NeedsGroup  bool                   `yaml:"needs_group"`
	Description string                 `yaml:"description"`

	BeforeEntityCreateValidator string `yaml:"before_entity_create_validator"`

	ExcludedPropertiesFromPublicResponse []ExcludedField `yaml:"excluded_properties_from_public_response"`
}

// Document is the parsed provenance schema.
type Document struct {
	Entities   map[string]EntityDef `yaml:"ENTITIES"`
	Activities map[string]EntityDef `yaml:"ACTIVITIES"`
}
