package trigger

import (
	"context"
	"fmt"

	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// Linkage triggers run after the entity node is persisted. The transient
// keys feeding them (direct_ancestor_uuids, dataset_uuids) are suppressed so
// they never land on the node; the graph edges are the source of truth.

func linkToDirectAncestors(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	parents := stringList(inv.Merged[inv.Key])
	if len(parents) == 0 {
		return nil, fmt.Errorf("no ancestor uuids under %q", inv.Key)
	}
	if err := linkViaActivity(ctx, deps, inv, parents); err != nil {
		return nil, err
	}
	return &Result{Suppress: true}, nil
}

func linkToDirectAncestor(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	parent, err := requireMergedString(inv, inv.Key)
	if err != nil {
		return nil, err
	}
	if err := linkViaActivity(ctx, deps, inv, []string{parent}); err != nil {
		return nil, err
	}
	return &Result{Suppress: true}, nil
}

// linkDonorToLab anchors a new donor under its registering lab. The lab node
// shares its uuid with the data-provider group, so group_uuid doubles as the
// parent id. The bound key stays on the node.
func linkDonorToLab(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	labUUID, err := requireMergedString(inv, schema.KeyGroupUUID)
	if err != nil {
		return nil, err
	}
	if err := linkViaActivity(ctx, deps, inv, []string{labUUID}); err != nil {
		return nil, err
	}
	return &Result{Value: inv.Merged[inv.Key]}, nil
}

// linkViaActivity mints an Activity identity, runs its before-create
// triggers, and lays down the input/output edges in one transaction. When
// the invocation carries a SharedActivity the node is built once and every
// subsequent entity of the request attaches to it.
func linkViaActivity(ctx context.Context, deps *Deps, inv *Invocation, parentUUIDs []string) error {
	entityUUID, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return err
	}
	if inv.Shared != nil && inv.Shared.props != nil {
		return deps.Store.LinkEntityToParents(ctx, entityUUID, parentUUIDs, inv.Shared.props)
	}
	if deps.UUID == nil {
		return fmt.Errorf("uuid client not configured")
	}
	records, err := deps.UUID.Mint(ctx, inv.Token, uuidapi.MintRequest{
		EntityType: schema.TypeActivity,
		Count:      1,
	})
	if err != nil {
		return err
	}

	activityDef, err := deps.Registry.ActivityDef(ctx)
	if err != nil {
		return err
	}
	seed := map[string]any{
		schema.KeyUUID:       records[0].UUID,
		schema.KeyHubmapID:   records[0].HubmapID,
		schema.KeyEntityType: schema.TypeActivity,
	}
	activityEngine := &Engine{deps: deps, triggers: Triggers(), validators: Validators()}
	activityProps, err := activityEngine.Run(ctx, schema.EventBeforeCreate, RunInput{
		EntityType: inv.EntityType,
		Def:        activityDef,
		Payload:    seed,
		User:       inv.User,
		Token:      inv.Token,
		AppHeader:  inv.AppHeader,
	})
	if err != nil {
		return fmt.Errorf("build activity: %w", err)
	}
	encoded, err := schema.EncodeForStorage(activityDef, activityProps)
	if err != nil {
		return err
	}
	if inv.Shared != nil {
		inv.Shared.props = encoded
	}
	return deps.Store.LinkEntityToParents(ctx, entityUUID, parentUUIDs, encoded)
}

func linkToPreviousRevision(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	entityUUID, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	previousUUID, err := requireMergedString(inv, inv.Key)
	if err != nil {
		return nil, err
	}
	if err := deps.Store.LinkRevision(ctx, entityUUID, previousUUID); err != nil {
		return nil, err
	}
	return &Result{Value: previousUUID}, nil
}

func linkCollectionToDatasets(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	collectionUUID, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	datasets := stringList(inv.Merged[inv.Key])
	if err := deps.Store.LinkCollectionDatasets(ctx, collectionUUID, datasets); err != nil {
		return nil, err
	}
	return &Result{Suppress: true}, nil
}

func linkUploadToDatasets(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uploadUUID, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	datasets := stringList(inv.Merged[inv.Key])
	if err := deps.Store.LinkUploadDatasets(ctx, uploadUUID, datasets); err != nil {
		return nil, err
	}
	return &Result{Suppress: true}, nil
}

func linkPublicationToAssociatedCollection(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	publicationUUID, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	collectionUUID, err := requireMergedString(inv, inv.Key)
	if err != nil {
		return nil, err
	}
	if err := deps.Store.LinkPublicationCollection(ctx, publicationUUID, collectionUUID); err != nil {
		return nil, err
	}
	return &Result{Value: collectionUUID}, nil
}
