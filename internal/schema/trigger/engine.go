package trigger

import (
	"context"
	"fmt"
	"sort"

	"github.com/hubmapconsortium/entity-api/internal/cache"
	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// Deps holds everything a trigger function may reach for. Triggers receive
// it rather than importing clients directly, which keeps the function table
// flat and the tests fake-friendly.
type Deps struct {
	Registry *schema.Registry
	Store    graph.Store
	UUID     uuidapi.Client
	Auth     globus.Client
	Cache    cache.EntityCache
	Log      *logger.Logger
}

// Invocation is the per-call input to a trigger or validator.
type Invocation struct {
	// Key is the property the trigger is bound to.
	Key        string
	EntityType string
	Event      string

	// Existing is the persisted record (nil on create).
	Existing map[string]any
	// Merged is the working record: persisted state overlaid with the
	// payload and with values produced by earlier triggers of this run.
	Merged map[string]any
	// Payload is the caller-supplied data for this operation.
	Payload map[string]any

	User      *globus.UserInfo
	Token     string
	AppHeader string

	// Shared, when set, makes linkage triggers attach every entity of the
	// request to one Activity node instead of minting one each.
	Shared *SharedActivity
}

// SharedActivity carries one Activity across the entities of a multi-create
// request, so the siblings come out as tuplets of a single Activity node.
// The first linkage trigger to run builds and caches the node properties.
type SharedActivity struct {
	props map[string]any
}

func NewSharedActivity() *SharedActivity { return &SharedActivity{} }

// Result is a trigger's output. When TargetKey differs from the bound key
// the bound key is suppressed in favor of the target. Suppress drops the
// bound key without writing anything.
type Result struct {
	TargetKey string
	Value     any
	Suppress  bool
}

// Func computes one property value (or side effect) for a lifecycle event.
type Func func(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error)

// ValidatorFunc rejects a payload before any trigger runs.
type ValidatorFunc func(ctx context.Context, deps *Deps, inv *Invocation) error

// Engine executes schema-bound triggers and validators. Construction fails
// when the schema document references a function the tables do not define,
// so a bad deploy dies at startup instead of mid-request.
type Engine struct {
	deps       *Deps
	triggers   map[string]Func
	validators map[string]ValidatorFunc
}

func NewEngine(ctx context.Context, deps *Deps) (*Engine, error) {
	if deps == nil || deps.Registry == nil || deps.Store == nil || deps.Log == nil {
		return nil, fmt.Errorf("trigger: registry, store and logger are required")
	}
	e := &Engine{
		deps:       deps,
		triggers:   Triggers(),
		validators: Validators(),
	}

	referenced, err := deps.Registry.ReferencedTriggerNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range referenced {
		if _, ok := e.triggers[name]; !ok {
			return nil, fmt.Errorf("trigger: schema references unknown trigger %q", name)
		}
	}
	referencedValidators, err := deps.Registry.ReferencedValidatorNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range referencedValidators {
		if _, ok := e.validators[name]; !ok {
			return nil, fmt.Errorf("trigger: schema references unknown validator %q", name)
		}
	}
	return e, nil
}

// RunInput is one lifecycle execution request.
type RunInput struct {
	EntityType string
	Def        schema.EntityDef
	Existing   map[string]any
	Payload    map[string]any
	User       *globus.UserInfo
	Token      string
	AppHeader  string
	Shared     *SharedActivity
}

// Run executes every trigger bound to the event per the participation rules
// and returns the working record with trigger outputs applied. Any trigger
// error aborts the whole run.
//
// Participation:
//   - before_create, on_read: every property declaring the event.
//   - before_update: declared, and the key is in the payload or the
//     property is flagged auto_update.
//   - after_create, after_update: declared, and the key is present on the
//     working record. All matching triggers run.
func (e *Engine) Run(ctx context.Context, event string, in RunInput) (map[string]any, error) {
	merged := make(map[string]any, len(in.Existing)+len(in.Payload))
	for k, v := range in.Existing {
		merged[k] = v
	}
	for k, v := range in.Payload {
		merged[k] = v
	}

	for _, key := range sortedPropertyKeys(in.Def) {
		prop := in.Def.Properties[key]
		name := prop.TriggerFor(event)
		if name == "" {
			continue
		}
		if !participates(event, key, prop, in.Payload, merged) {
			continue
		}
		fn, ok := e.triggers[name]
		if !ok {
			return nil, fmt.Errorf("trigger: unknown trigger %q bound to %s.%s", name, in.EntityType, key)
		}

		inv := &Invocation{
			Key:        key,
			EntityType: in.EntityType,
			Event:      event,
			Existing:   in.Existing,
			Merged:     merged,
			Payload:    in.Payload,
			User:       in.User,
			Token:      in.Token,
			AppHeader:  in.AppHeader,
			Shared:     in.Shared,
		}
		result, err := fn(ctx, e.deps, inv)
		if err != nil {
			return nil, fmt.Errorf("trigger %s on %s.%s: %w", name, in.EntityType, key, err)
		}
		if result == nil {
			continue
		}
		if result.Suppress {
			delete(merged, key)
			continue
		}
		target := result.TargetKey
		if target == "" {
			target = key
		}
		if target != key {
			delete(merged, key)
		}
		merged[target] = result.Value
	}
	return merged, nil
}

// Validate runs the entity-level validator (create only) and every bound
// property-level validator for the phase.
func (e *Engine) Validate(ctx context.Context, event string, in RunInput) error {
	if event == schema.EventBeforeCreate && in.Def.BeforeEntityCreateValidator != "" {
		if err := e.runValidator(ctx, in.Def.BeforeEntityCreateValidator, "", event, in); err != nil {
			return err
		}
	}
	for _, key := range sortedPropertyKeys(in.Def) {
		if _, present := in.Payload[key]; !present {
			continue
		}
		prop := in.Def.Properties[key]
		var names []string
		switch event {
		case schema.EventBeforeCreate:
			names = prop.BeforePropertyCreateValidators
		case schema.EventBeforeUpdate:
			names = prop.BeforePropertyUpdateValidators
		}
		for _, name := range names {
			if err := e.runValidator(ctx, name, key, event, in); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) runValidator(ctx context.Context, name, key, event string, in RunInput) error {
	fn, ok := e.validators[name]
	if !ok {
		return fmt.Errorf("trigger: unknown validator %q on %s", name, in.EntityType)
	}
	merged := make(map[string]any, len(in.Existing)+len(in.Payload))
	for k, v := range in.Existing {
		merged[k] = v
	}
	for k, v := range in.Payload {
		merged[k] = v
	}
	inv := &Invocation{
		Key:        key,
		EntityType: in.EntityType,
		Event:      event,
		Existing:   in.Existing,
		Merged:     merged,
		Payload:    in.Payload,
		User:       in.User,
		Token:      in.Token,
		AppHeader:  in.AppHeader,
	}
	if err := fn(ctx, e.deps, inv); err != nil {
		return fmt.Errorf("validator %s on %s: %w", name, in.EntityType, err)
	}
	return nil
}

func participates(event, key string, prop schema.PropertyDef, payload, merged map[string]any) bool {
	switch event {
	case schema.EventBeforeCreate, schema.EventOnRead:
		return true
	case schema.EventBeforeUpdate:
		if prop.AutoUpdate {
			return true
		}
		_, present := payload[key]
		return present
	case schema.EventAfterCreate, schema.EventAfterUpdate:
		_, present := merged[key]
		return present
	}
	return false
}

func sortedPropertyKeys(def schema.EntityDef) []string {
	keys := make([]string, 0, len(def.Properties))
	for key := range def.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
