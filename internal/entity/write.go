package entity

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/hubmapconsortium/entity-api/internal/cache"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/schema"
	"github.com/hubmapconsortium/entity-api/internal/schema/trigger"
)

// CreateEntity runs the full create pipeline: payload validation, named
// validators, identifier minting, before-create triggers, persistence,
// after-create triggers (linkage), and cache invalidation.
func (w *Worker) CreateEntity(ctx context.Context, caller *Caller, entityType string, payload map[string]any) (map[string]any, error) {
	normalizedType, def, err := w.validateCreate(ctx, caller, entityType, payload)
	if err != nil {
		return nil, err
	}
	minted, err := w.mintIdentifiers(ctx, caller, normalizedType, payload, 1)
	if err != nil {
		return nil, err
	}
	return w.createSeeded(ctx, caller, normalizedType, def, payload, minted[0], nil)
}

func (w *Worker) validateCreate(ctx context.Context, caller *Caller, entityType string, payload map[string]any) (string, schema.EntityDef, error) {
	if caller.User == nil {
		return "", schema.EntityDef{}, apierr.Unauthorized("token_required", fmt.Errorf("entity: create requires authentication"))
	}
	normalizedType := schema.NormalizeEntityType(entityType)
	def, err := w.registry.EntityDef(ctx, normalizedType)
	if err != nil {
		return "", schema.EntityDef{}, wrapSchemaErr(err)
	}
	if err := schema.ValidateCreatePayload(def, payload); err != nil {
		return "", schema.EntityDef{}, apierr.BadRequest("validation_failed", err)
	}
	runInput := trigger.RunInput{
		EntityType: normalizedType,
		Def:        def,
		Payload:    payload,
		User:       caller.User,
		Token:      caller.Token,
		AppHeader:  caller.AppHeader,
	}
	if err := w.engine.Validate(ctx, schema.EventBeforeCreate, runInput); err != nil {
		return "", schema.EntityDef{}, apierr.BadRequest("validation_failed", err)
	}
	return normalizedType, def, nil
}

func (w *Worker) createSeeded(ctx context.Context, caller *Caller, normalizedType string, def schema.EntityDef, payload map[string]any, record uuidapi.IDRecord, shared *trigger.SharedActivity) (map[string]any, error) {
	seeded := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		seeded[k] = v
	}
	applyMintedIDs(seeded, record)

	runInput := trigger.RunInput{
		EntityType: normalizedType,
		Def:        def,
		Payload:    seeded,
		User:       caller.User,
		Token:      caller.Token,
		AppHeader:  caller.AppHeader,
		Shared:     shared,
	}
	merged, err := w.engine.Run(ctx, schema.EventBeforeCreate, runInput)
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}

	labels, err := w.registry.Labels(ctx, normalizedType)
	if err != nil {
		return nil, wrapSchemaErr(err)
	}
	storable, err := storableProps(def, merged, false)
	if err != nil {
		return nil, apierr.Internal("encode_error", err)
	}
	persisted, err := w.store.CreateEntity(ctx, labels, storable)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}

	// after-create triggers see the working record, transient keys included,
	// so linkage inputs survive to this point
	runInput.Existing = merged
	runInput.Payload = nil
	if _, err := w.engine.Run(ctx, schema.EventAfterCreate, runInput); err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}

	uuid, _ := persisted[schema.KeyUUID].(string)
	w.invalidate(ctx, uuid)

	fresh, err := w.store.GetEntity(ctx, uuid)
	if err != nil || fresh == nil {
		fresh = persisted
	}
	completed, err := w.engine.CompleteEntity(ctx, fresh, caller.readContext())
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}
	return schema.NormalizeResponse(def, completed, false), nil
}

// CreateEntities creates several entities of one type in a single request.
// Every payload is validated up front and the identifiers come from one
// batch mint, so a bad sibling payload fails the batch before anything is
// persisted. The siblings share one creation Activity, which makes them
// tuplets in the graph.
func (w *Worker) CreateEntities(ctx context.Context, caller *Caller, entityType string, payloads []map[string]any) ([]map[string]any, error) {
	if len(payloads) == 0 {
		return nil, apierr.BadRequest("empty_request", fmt.Errorf("entity: no payloads"))
	}
	var normalizedType string
	defs := make([]schema.EntityDef, len(payloads))
	for i, payload := range payloads {
		nt, def, err := w.validateCreate(ctx, caller, entityType, payload)
		if err != nil {
			return nil, err
		}
		normalizedType = nt
		defs[i] = def
	}
	minted, err := w.mintIdentifiers(ctx, caller, normalizedType, payloads[0], len(payloads))
	if err != nil {
		return nil, err
	}
	shared := trigger.NewSharedActivity()
	out := make([]map[string]any, 0, len(payloads))
	for i, payload := range payloads {
		created, err := w.createSeeded(ctx, caller, normalizedType, defs[i], payload, minted[i], shared)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// UpdateEntity merges the payload into the stored node: validators, before-
// update triggers (including auto_update recomputations), a SET-merge write
// of the changed keys, after-update triggers, and fan-out invalidation.
func (w *Worker) UpdateEntity(ctx context.Context, caller *Caller, id string, payload map[string]any) (map[string]any, error) {
	if caller.User == nil {
		return nil, apierr.Unauthorized("token_required", fmt.Errorf("entity: update requires authentication"))
	}
	uuid, err := w.resolveUUID(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	node, err := w.loadEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if err := w.authorizeWrite(ctx, caller, node); err != nil {
		return nil, err
	}
	entityType, _ := node["entity_type"].(string)
	def, err := w.registry.EntityDef(ctx, entityType)
	if err != nil {
		return nil, wrapSchemaErr(err)
	}
	existing := schema.DecodeStoredValues(def, node)

	if err := schema.ValidateUpdatePayload(def, payload); err != nil {
		return nil, apierr.BadRequest("validation_failed", err)
	}
	runInput := trigger.RunInput{
		EntityType: entityType,
		Def:        def,
		Existing:   existing,
		Payload:    payload,
		User:       caller.User,
		Token:      caller.Token,
		AppHeader:  caller.AppHeader,
	}
	if err := w.engine.Validate(ctx, schema.EventBeforeUpdate, runInput); err != nil {
		return nil, apierr.BadRequest("validation_failed", err)
	}

	merged, err := w.engine.Run(ctx, schema.EventBeforeUpdate, runInput)
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}

	changed := changedProps(existing, merged, payload)
	// explicit nulls survive to the store, where they remove the key
	storable, err := storableProps(def, changed, true)
	if err != nil {
		return nil, apierr.Internal("encode_error", err)
	}
	if len(storable) > 0 {
		if _, err := w.store.UpdateEntity(ctx, uuid, storable); err != nil {
			return nil, apierr.Internal("graph_error", err)
		}
	}

	runInput.Existing = merged
	runInput.Payload = nil
	if _, err := w.engine.Run(ctx, schema.EventAfterUpdate, runInput); err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}

	if w.publishedNow(ctx, entityType, existing, merged) {
		w.recomputeAncestorAccess(ctx, uuid)
	}

	w.invalidate(ctx, uuid)

	fresh, err := w.store.GetEntity(ctx, uuid)
	if err != nil || fresh == nil {
		return nil, apierr.Internal("graph_error", fmt.Errorf("entity: reload %s after update: %w", uuid, err))
	}
	w.cache.Set(ctx, uuid, fresh)
	completed, err := w.engine.CompleteEntity(ctx, fresh, caller.readContext())
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}
	return schema.NormalizeResponse(def, completed, false), nil
}

// mintIdentifiers asks the uuid service for identifier sets, deriving parent
// ids and organ code from the payload.
func (w *Worker) mintIdentifiers(ctx context.Context, caller *Caller, entityType string, payload map[string]any, count int) ([]uuidapi.IDRecord, error) {
	if w.uuid == nil {
		return nil, apierr.Internal("uuid_not_configured", fmt.Errorf("entity: uuid client not configured"))
	}
	req := uuidapi.MintRequest{EntityType: entityType, Count: count}
	if parents, ok := payload["direct_ancestor_uuids"]; ok {
		req.ParentIDs = toStringList(parents)
	} else if parent, ok := payload["direct_ancestor_uuid"].(string); ok {
		req.ParentIDs = []string{parent}
	}
	if organ, ok := payload["organ"].(string); ok {
		req.OrganCode = organ
	}
	return w.uuid.Mint(ctx, caller.Token, req)
}

func applyMintedIDs(payload map[string]any, record uuidapi.IDRecord) {
	payload[schema.KeyUUID] = record.UUID
	payload[schema.KeyHubmapID] = record.HubmapID
	if record.SubmissionID != "" {
		payload[schema.KeySubmissionID] = record.SubmissionID
	}
}

// storableProps drops transient keys and serializes nested values for the
// graph store. Nil values are dropped on create; on update they are kept so
// the SET-merge removes the key from the node.
func storableProps(def schema.EntityDef, merged map[string]any, keepNulls bool) (map[string]any, error) {
	filtered := make(map[string]any, len(merged))
	for key, value := range merged {
		if prop, ok := def.Properties[key]; ok && prop.Transient {
			continue
		}
		if value == nil && !keepNulls {
			continue
		}
		filtered[key] = value
	}
	return schema.EncodeForStorage(def, filtered)
}

// publishedNow reports whether this update moved a dataset into Published.
func (w *Worker) publishedNow(ctx context.Context, entityType string, existing, merged map[string]any) bool {
	newStatus, _ := merged[schema.KeyStatus].(string)
	if newStatus != schema.StatusPublished {
		return false
	}
	if prev, _ := existing[schema.KeyStatus].(string); prev == schema.StatusPublished {
		return false
	}
	isDataset, err := w.registry.InstanceOf(ctx, entityType, schema.TypeDataset)
	return err == nil && isDataset
}

// recomputeAncestorAccess refreshes data_access_level on the Donor and
// Sample ancestors after a dataset is published: an ancestor with a
// published descendant goes public. Best effort: a failed ancestor is
// logged and skipped, it heals on its next write.
func (w *Worker) recomputeAncestorAccess(ctx context.Context, uuid string) {
	ancestors, err := w.store.GetAncestors(ctx, uuid, graph.LineageOptions{})
	if err != nil {
		w.log.Warn("ancestor access recompute skipped", "uuid", uuid, "error", err.Error())
		return
	}
	for _, ancestor := range ancestors {
		entityType, _ := ancestor[schema.KeyEntityType].(string)
		if entityType != schema.TypeDonor && entityType != schema.TypeSample {
			continue
		}
		ancestorUUID, _ := ancestor[schema.KeyUUID].(string)
		if ancestorUUID == "" {
			continue
		}
		published, err := w.store.CountPublishedDescendantDatasets(ctx, ancestorUUID)
		if err != nil {
			w.log.Warn("ancestor access recompute failed", "uuid", ancestorUUID, "error", err.Error())
			continue
		}
		level := schema.AccessLevelConsortium
		if published > 0 {
			level = schema.AccessLevelPublic
		}
		if current, _ := ancestor[schema.KeyDataAccessLevel].(string); current == level {
			continue
		}
		if _, err := w.store.UpdateEntity(ctx, ancestorUUID, graph.Entity{schema.KeyDataAccessLevel: level}); err != nil {
			w.log.Warn("ancestor access update failed", "uuid", ancestorUUID, "error", err.Error())
			continue
		}
		w.invalidate(ctx, ancestorUUID)
	}
}

// changedProps picks the keys an update must write: everything in the
// payload plus whatever the triggers changed against the stored record.
func changedProps(existing, merged, payload map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range merged {
		if _, inPayload := payload[key]; inPayload {
			out[key] = value
			continue
		}
		if prev, ok := existing[key]; !ok || !reflect.DeepEqual(prev, value) {
			out[key] = value
		}
	}
	return out
}

// invalidate computes the stale set around a written entity and drops it
// from the cache. Relationship lookups are best effort: a failed lookup
// widens to nothing, but the entity itself is always dropped.
func (w *Worker) invalidate(ctx context.Context, uuid string) {
	if uuid == "" {
		return
	}
	related := cache.RelatedUUIDs{}
	if parents, err := w.store.GetParents(ctx, uuid, graph.LineageOptions{Property: "uuid"}); err == nil {
		related.Parents = uuidsOf(parents)
	}
	if children, err := w.store.GetChildren(ctx, uuid, graph.LineageOptions{Property: "uuid"}); err == nil {
		related.Children = uuidsOf(children)
	}
	if collections, err := w.store.GetEntityCollections(ctx, uuid); err == nil {
		related.Collections = uuidsOf(collections)
	}
	if upload, err := w.store.GetEntityUpload(ctx, uuid); err == nil && upload != nil {
		related.Uploads = uuidsOf([]graph.Entity{upload})
	}
	if revisions, err := w.store.GetSortedRevisions(ctx, uuid); err == nil {
		related.Revisions = uuidsOf(revisions)
	}
	w.cache.Delete(ctx, cache.InvalidationSet(uuid, related)...)
}

func uuidsOf(entities []graph.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, entity := range entities {
		if id, ok := entity[schema.KeyUUID].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

func toStringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func wrapSchemaErr(err error) error {
	var unknown *schema.UnknownTypeError
	if errors.As(err, &unknown) {
		return apierr.BadRequest("unknown_entity_type", err)
	}
	return apierr.Internal("schema_error", err)
}
