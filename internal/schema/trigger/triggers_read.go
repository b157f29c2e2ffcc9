package trigger

import (
	"context"

	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// Read-time triggers enrich an entity with values derived from the graph.
// They suppress their key instead of erroring when there is nothing to show,
// so absent associations just leave the field off the response.

func getPreviousRevisionUUID(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	uuids, err := deps.Store.GetPreviousRevisionUUIDs(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if len(uuids) == 0 {
		return &Result{Suppress: true}, nil
	}
	return &Result{Value: uuids[0]}, nil
}

func getNextRevisionUUID(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	uuids, err := deps.Store.GetNextRevisionUUIDs(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if len(uuids) == 0 {
		return &Result{Suppress: true}, nil
	}
	return &Result{Value: uuids[0]}, nil
}

func getCreationAction(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	activity, err := deps.Store.GetCreationActivity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return &Result{Suppress: true}, nil
	}
	action, ok := activity["creation_action"].(string)
	if !ok || action == "" {
		return &Result{Suppress: true}, nil
	}
	return &Result{Value: action}, nil
}

func getDatasetDirectAncestors(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	parents, err := deps.Store.GetParents(ctx, uuid, graph.LineageOptions{})
	if err != nil {
		return nil, err
	}
	return entityListResult(ctx, deps, parents)
}

func getSampleDirectAncestor(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	parents, err := deps.Store.GetParents(ctx, uuid, graph.LineageOptions{})
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return &Result{Suppress: true}, nil
	}
	decoded, err := decodeEntity(ctx, deps, parents[0])
	if err != nil {
		return nil, err
	}
	return &Result{Value: decoded}, nil
}

func getCollectionDatasets(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	datasets, err := deps.Store.GetCollectionDatasets(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return entityListResult(ctx, deps, datasets)
}

func getUploadDatasets(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	datasets, err := deps.Store.GetUploadDatasets(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return entityListResult(ctx, deps, datasets)
}

func getDatasetCollections(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	collections, err := deps.Store.GetEntityCollections(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return entityListResult(ctx, deps, collections)
}

func getDatasetUpload(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	upload, err := deps.Store.GetEntityUpload(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return &Result{Suppress: true}, nil
	}
	decoded, err := decodeEntity(ctx, deps, upload)
	if err != nil {
		return nil, err
	}
	return &Result{Value: decoded}, nil
}

func getPublicationAssociatedCollection(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	collection, err := deps.Store.GetPublicationCollection(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if collection == nil {
		return &Result{Suppress: true}, nil
	}
	decoded, err := decodeEntity(ctx, deps, collection)
	if err != nil {
		return nil, err
	}
	return &Result{Value: decoded}, nil
}

func entityListResult(ctx context.Context, deps *Deps, entities []graph.Entity) (*Result, error) {
	if len(entities) == 0 {
		return &Result{Suppress: true}, nil
	}
	decoded := make([]any, 0, len(entities))
	for _, entity := range entities {
		d, err := decodeEntity(ctx, deps, entity)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, d)
	}
	return &Result{Value: decoded}, nil
}

// decodeEntity turns a raw node into its schema shape (JSON-string values
// decoded). Nodes of unknown type pass through as-is.
func decodeEntity(ctx context.Context, deps *Deps, entity graph.Entity) (map[string]any, error) {
	entityType, _ := entity["entity_type"].(string)
	if entityType == "" {
		return entity, nil
	}
	def, err := deps.Registry.EntityDef(ctx, entityType)
	if err != nil {
		return entity, nil
	}
	return schema.DecodeStoredValues(def, entity), nil
}
