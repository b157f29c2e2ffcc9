package trigger

import (
	"context"
	"strings"
	"testing"

	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

const engineYAML = `
ACTIVITIES:
  Activity:
    properties:
      uuid:
        type: string
        generated: true
        before_create_trigger: set_uuid
      hubmap_id:
        type: string
        generated: true
        before_create_trigger: set_hubmap_id
      created_timestamp:
        type: integer
        generated: true
        before_create_trigger: set_timestamp
      creation_action:
        type: string
        generated: true
        before_create_trigger: set_creation_action
ENTITIES:
  Dataset:
    properties:
      uuid:
        type: string
        generated: true
        before_create_trigger: set_uuid
      entity_type:
        type: string
        generated: true
        before_create_trigger: set_entity_type
      status:
        type: string
        generated: true
        before_create_trigger: set_dataset_status_new
      contains_human_genetic_sequences:
        type: boolean
        required_on_create: true
      group_name:
        type: string
      data_access_level:
        type: string
        generated: true
        auto_update: true
        before_create_trigger: set_data_access_level
        before_update_trigger: set_data_access_level
      local_directory_rel_path:
        type: string
        generated: true
        before_create_trigger: set_local_directory_rel_path
      creation_action:
        type: string
        generated: true
        transient: true
        on_read_trigger: get_creation_action
      direct_ancestor_uuids:
        type: list
        transient: true
        after_create_trigger: link_to_direct_ancestors
  Collection:
    before_entity_create_validator: validate_application_header
    properties:
      uuid:
        type: string
        generated: true
        before_create_trigger: set_uuid
      last_modified_timestamp:
        type: integer
        generated: true
        auto_update: true
        before_update_trigger: set_timestamp
      title:
        type: string
        required_on_create: true
      registered_doi:
        type: string
        before_property_update_validators:
          - validate_doi_fields
      doi_url:
        type: string
        before_property_update_validators:
          - validate_doi_fields
      dataset_uuids:
        type: list
        transient: true
        after_update_trigger: link_collection_to_datasets
`

func newTestEngine(t *testing.T, yamlDoc string, store *fakeStore) (*Engine, *Deps) {
	t.Helper()
	deps := testDeps(t, yamlDoc, store)
	engine, err := NewEngine(context.Background(), deps)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, deps
}

func entityDef(t *testing.T, deps *Deps, entityType string) schema.EntityDef {
	t.Helper()
	def, err := deps.Registry.EntityDef(context.Background(), entityType)
	if err != nil {
		t.Fatalf("EntityDef(%s): %v", entityType, err)
	}
	return def
}

func TestNewEngineRejectsUnknownTrigger(t *testing.T) {
	yamlDoc := `
ENTITIES:
  Dataset:
    properties:
      uuid:
        type: string
        before_create_trigger: set_something_nobody_wrote
`
	deps := testDeps(t, yamlDoc, nil)
	_, err := NewEngine(context.Background(), deps)
	if err == nil {
		t.Fatalf("expected construction failure")
	}
	if !strings.Contains(err.Error(), "set_something_nobody_wrote") {
		t.Fatalf("error should name the missing trigger: %v", err)
	}
}

func TestNewEngineRejectsUnknownValidator(t *testing.T) {
	yamlDoc := `
ENTITIES:
  Dataset:
    before_entity_create_validator: validate_nothing
    properties:
      uuid:
        type: string
`
	deps := testDeps(t, yamlDoc, nil)
	_, err := NewEngine(context.Background(), deps)
	if err == nil {
		t.Fatalf("expected construction failure")
	}
	if !strings.Contains(err.Error(), "validate_nothing") {
		t.Fatalf("error should name the missing validator: %v", err)
	}
}

// Triggers execute in sorted key order, so data_access_level is computed
// before local_directory_rel_path consumes it.
func TestRunBeforeCreateOrderedChain(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	merged, err := engine.Run(context.Background(), schema.EventBeforeCreate, RunInput{
		EntityType: schema.TypeDataset,
		Def:        entityDef(t, deps, schema.TypeDataset),
		Payload: map[string]any{
			"uuid":                             "u1",
			"group_name":                       "Example TMC",
			"contains_human_genetic_sequences": false,
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if merged["status"] != schema.StatusNew {
		t.Fatalf("status: want=%s got=%v", schema.StatusNew, merged["status"])
	}
	if merged["entity_type"] != schema.TypeDataset {
		t.Fatalf("entity_type: %v", merged["entity_type"])
	}
	if merged["data_access_level"] != schema.AccessLevelConsortium {
		t.Fatalf("data_access_level: %v", merged["data_access_level"])
	}
	if merged["local_directory_rel_path"] != "consortium/Example TMC/u1/" {
		t.Fatalf("local_directory_rel_path: %v", merged["local_directory_rel_path"])
	}
}

func TestRunBeforeCreateProtectedForGeneticData(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	merged, err := engine.Run(context.Background(), schema.EventBeforeCreate, RunInput{
		EntityType: schema.TypeDataset,
		Def:        entityDef(t, deps, schema.TypeDataset),
		Payload: map[string]any{
			"uuid":                             "u1",
			"group_name":                       "Example TMC",
			"contains_human_genetic_sequences": true,
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if merged["data_access_level"] != schema.AccessLevelProtected {
		t.Fatalf("data_access_level: %v", merged["data_access_level"])
	}
}

func TestRunTriggerErrorAborts(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	// contains_human_genetic_sequences missing: set_data_access_level fails
	_, err := engine.Run(context.Background(), schema.EventBeforeCreate, RunInput{
		EntityType: schema.TypeDataset,
		Def:        entityDef(t, deps, schema.TypeDataset),
		Payload:    map[string]any{"uuid": "u1", "group_name": "Example TMC"},
	})
	if err == nil {
		t.Fatalf("expected abort")
	}
	if !strings.Contains(err.Error(), "set_data_access_level") {
		t.Fatalf("error should name the failing trigger: %v", err)
	}
}

// before_update runs a trigger only when its key is in the payload or the
// property is flagged auto_update.
func TestRunBeforeUpdateParticipation(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	merged, err := engine.Run(context.Background(), schema.EventBeforeUpdate, RunInput{
		EntityType: schema.TypeCollection,
		Def:        entityDef(t, deps, schema.TypeCollection),
		Existing:   map[string]any{"uuid": "c1", "title": "old"},
		Payload:    map[string]any{"title": "new"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := merged["last_modified_timestamp"]; !ok {
		t.Fatalf("auto_update trigger did not run")
	}
	if merged["title"] != "new" {
		t.Fatalf("payload lost: %v", merged["title"])
	}
}

// Dataset data_access_level is auto_update: an unrelated update recomputes it
// from the stored record.
func TestRunBeforeUpdateRecomputesAccessLevel(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	merged, err := engine.Run(context.Background(), schema.EventBeforeUpdate, RunInput{
		EntityType: schema.TypeDataset,
		Def:        entityDef(t, deps, schema.TypeDataset),
		Existing: map[string]any{
			"uuid":                             "u1",
			"status":                           schema.StatusPublished,
			"contains_human_genetic_sequences": true,
			"data_access_level":                schema.AccessLevelProtected,
		},
		Payload: map[string]any{"group_name": "Example TMC"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if merged["data_access_level"] != schema.AccessLevelPublic {
		t.Fatalf("published dataset should compute public, got %v", merged["data_access_level"])
	}
}

// after_* triggers run when their key is on the working record; transient
// linkage inputs are consumed and suppressed.
func TestRunAfterUpdateLinkageSuppressesKey(t *testing.T) {
	store := &fakeStore{}
	engine, deps := newTestEngine(t, engineYAML, store)
	merged, err := engine.Run(context.Background(), schema.EventAfterUpdate, RunInput{
		EntityType: schema.TypeCollection,
		Def:        entityDef(t, deps, schema.TypeCollection),
		Existing: map[string]any{
			"uuid":          "c1",
			"dataset_uuids": []any{"d1", "d2"},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.LinkedCollections["c1"]; len(got) != 2 || got[0] != "d1" {
		t.Fatalf("datasets not linked: %v", store.LinkedCollections)
	}
	if _, ok := merged["dataset_uuids"]; ok {
		t.Fatalf("transient linkage key survived on the working record")
	}
}

func TestRunAfterUpdateSkipsAbsentKey(t *testing.T) {
	store := &fakeStore{}
	engine, deps := newTestEngine(t, engineYAML, store)
	_, err := engine.Run(context.Background(), schema.EventAfterUpdate, RunInput{
		EntityType: schema.TypeCollection,
		Def:        entityDef(t, deps, schema.TypeCollection),
		Existing:   map[string]any{"uuid": "c1"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.LinkedCollections) != 0 {
		t.Fatalf("linkage ran without its input key")
	}
}

func TestValidateEntityLevelOnCreate(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	in := RunInput{
		EntityType: schema.TypeCollection,
		Def:        entityDef(t, deps, schema.TypeCollection),
		Payload:    map[string]any{"title": "t"},
	}
	if err := engine.Validate(context.Background(), schema.EventBeforeCreate, in); err == nil {
		t.Fatalf("create without application header accepted")
	}
	in.AppHeader = "ingest-api"
	if err := engine.Validate(context.Background(), schema.EventBeforeCreate, in); err != nil {
		t.Fatalf("trusted create rejected: %v", err)
	}
	// entity-level validator does not apply to updates
	in.AppHeader = ""
	if err := engine.Validate(context.Background(), schema.EventBeforeUpdate, in); err != nil {
		t.Fatalf("update hit the create-only validator: %v", err)
	}
}

func TestValidatePropertyLevelRunsOnPayloadKeysOnly(t *testing.T) {
	engine, deps := newTestEngine(t, engineYAML, nil)
	in := RunInput{
		EntityType: schema.TypeCollection,
		Def:        entityDef(t, deps, schema.TypeCollection),
		Payload:    map[string]any{"registered_doi": "10.1000/abc"},
	}
	if err := engine.Validate(context.Background(), schema.EventBeforeUpdate, in); err == nil {
		t.Fatalf("registered_doi without doi_url accepted")
	}
	in.Payload["doi_url"] = "https://doi.org/10.1000/abc"
	if err := engine.Validate(context.Background(), schema.EventBeforeUpdate, in); err != nil {
		t.Fatalf("coupled doi fields rejected: %v", err)
	}
	// no bound key in the payload, nothing runs
	in.Payload = map[string]any{"title": "t"}
	if err := engine.Validate(context.Background(), schema.EventBeforeUpdate, in); err != nil {
		t.Fatalf("unrelated update rejected: %v", err)
	}
}

func TestCompleteEntityRunsOnReadTriggers(t *testing.T) {
	store := &fakeStore{
		GetCreationActivityFn: func(ctx context.Context, uuid string) (graph.Entity, error) {
			return graph.Entity{"creation_action": "Create Dataset Activity"}, nil
		},
	}
	engine, _ := newTestEngine(t, engineYAML, store)
	completed, err := engine.CompleteEntity(context.Background(), map[string]any{
		"uuid":        "u1",
		"entity_type": schema.TypeDataset,
	}, ReadContext{})
	if err != nil {
		t.Fatalf("CompleteEntity: %v", err)
	}
	if completed["creation_action"] != "Create Dataset Activity" {
		t.Fatalf("creation_action: %v", completed["creation_action"])
	}
}

func TestCompleteEntityRequiresEntityType(t *testing.T) {
	engine, _ := newTestEngine(t, engineYAML, nil)
	if _, err := engine.CompleteEntity(context.Background(), map[string]any{"uuid": "u1"}, ReadContext{}); err == nil {
		t.Fatalf("typeless node accepted")
	}
}

func TestCompleteEntitiesPreservesOrder(t *testing.T) {
	engine, _ := newTestEngine(t, engineYAML, nil)
	entities := []map[string]any{
		{"uuid": "a", "entity_type": schema.TypeDataset, "contains_human_genetic_sequences": false},
		{"uuid": "b", "entity_type": schema.TypeDataset, "contains_human_genetic_sequences": false},
		{"uuid": "c", "entity_type": schema.TypeDataset, "contains_human_genetic_sequences": false},
	}
	completed, err := engine.CompleteEntities(context.Background(), entities, ReadContext{})
	if err != nil {
		t.Fatalf("CompleteEntities: %v", err)
	}
	if len(completed) != 3 {
		t.Fatalf("count: %d", len(completed))
	}
	for i, want := range []string{"a", "b", "c"} {
		if completed[i]["uuid"] != want {
			t.Fatalf("order lost at %d: %v", i, completed[i]["uuid"])
		}
	}
}

func TestRunUserTriggersRequireIdentity(t *testing.T) {
	yamlDoc := `
ENTITIES:
  Donor:
    properties:
      created_by_user_sub:
        type: string
        generated: true
        before_create_trigger: set_user_sub
`
	engine, deps := newTestEngine(t, yamlDoc, nil)
	in := RunInput{
		EntityType: schema.TypeDonor,
		Def:        entityDef(t, deps, schema.TypeDonor),
		Payload:    map[string]any{},
	}
	if _, err := engine.Run(context.Background(), schema.EventBeforeCreate, in); err == nil {
		t.Fatalf("anonymous create produced user attribution")
	}
	in.User = &globus.UserInfo{Sub: "sub-1", Email: "a@b.c"}
	merged, err := engine.Run(context.Background(), schema.EventBeforeCreate, in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if merged["created_by_user_sub"] != "sub-1" {
		t.Fatalf("created_by_user_sub: %v", merged["created_by_user_sub"])
	}
}
