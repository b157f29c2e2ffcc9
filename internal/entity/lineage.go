package entity

import (
	"context"
	"fmt"

	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// Lineage operations resolve the id, authorize the seed entity, traverse,
// and then filter traversal results to public entities for callers without
// read privileges before completion and normalization.

type traversal func(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error)

func (w *Worker) lineage(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions, walk traversal) ([]map[string]any, error) {
	uuid, err := w.resolveUUID(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	node, err := w.loadEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if _, err := w.authorizeRead(ctx, caller, node); err != nil {
		return nil, err
	}
	nodes, err := walk(ctx, uuid, opts)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	return w.completeAndNormalize(ctx, caller, nodes)
}

func (w *Worker) Ancestors(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetAncestors)
}

func (w *Worker) Descendants(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetDescendants)
}

func (w *Worker) Parents(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetParents)
}

func (w *Worker) Children(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetChildren)
}

func (w *Worker) Siblings(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetSiblings)
}

func (w *Worker) Tuplets(ctx context.Context, caller *Caller, id string, opts graph.LineageOptions) ([]map[string]any, error) {
	return w.lineage(ctx, caller, id, opts, w.store.GetTuplets)
}

// Revisions returns the entity's whole revision chain newest first. Multiple
// previous revisions anywhere in the chain make the chain unserviceable.
func (w *Worker) Revisions(ctx context.Context, caller *Caller, id string) ([]map[string]any, error) {
	uuid, err := w.resolveUUID(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	node, err := w.loadEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if _, err := w.authorizeRead(ctx, caller, node); err != nil {
		return nil, err
	}
	nested, err := w.store.HasNestedPreviousRevisions(ctx, uuid)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	if nested {
		return nil, apierr.BadRequest("nested_revisions",
			fmt.Errorf("entity: revision chain of %s branches, cannot list it linearly", uuid))
	}
	chain, err := w.store.GetSortedRevisions(ctx, uuid)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	return w.completeAndNormalize(ctx, caller, chain)
}

// Provenance extracts the upward provenance subgraph of an entity.
func (w *Worker) Provenance(ctx context.Context, caller *Caller, id string, depth int) (*graph.Subgraph, error) {
	uuid, err := w.resolveUUID(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	node, err := w.loadEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if _, err := w.authorizeRead(ctx, caller, node); err != nil {
		return nil, err
	}
	subgraph, err := w.store.GetProvenanceSubgraph(ctx, uuid, depth)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	return subgraph, nil
}

// CollectionDatasets lists the member datasets of a collection.
func (w *Worker) CollectionDatasets(ctx context.Context, caller *Caller, id string) ([]map[string]any, error) {
	return w.membership(ctx, caller, id, w.store.GetCollectionDatasets)
}

// UploadDatasets lists the datasets registered under an upload.
func (w *Worker) UploadDatasets(ctx context.Context, caller *Caller, id string) ([]map[string]any, error) {
	return w.membership(ctx, caller, id, w.store.GetUploadDatasets)
}

func (w *Worker) membership(ctx context.Context, caller *Caller, id string, list func(context.Context, string) ([]graph.Entity, error)) ([]map[string]any, error) {
	uuid, err := w.resolveUUID(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	node, err := w.loadEntity(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if _, err := w.authorizeRead(ctx, caller, node); err != nil {
		return nil, err
	}
	nodes, err := list(ctx, uuid)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	return w.completeAndNormalize(ctx, caller, nodes)
}

// EntitiesByType lists entities of one type, visibility-filtered.
func (w *Worker) EntitiesByType(ctx context.Context, caller *Caller, entityType string) ([]map[string]any, error) {
	normalized := schema.NormalizeEntityType(entityType)
	if _, err := w.registry.EntityDef(ctx, normalized); err != nil {
		return nil, wrapSchemaErr(err)
	}
	nodes, err := w.store.GetEntitiesByType(ctx, normalized, graph.LineageOptions{})
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	return w.completeAndNormalize(ctx, caller, nodes)
}
