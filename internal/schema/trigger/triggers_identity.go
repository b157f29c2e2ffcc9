package trigger

import (
	"context"
	"fmt"

	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

func setTimestamp(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	return &Result{Value: nowMillis()}, nil
}

func setEntityType(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	return &Result{Value: inv.EntityType}, nil
}

func setUserSub(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	if inv.User == nil || inv.User.Sub == "" {
		return nil, fmt.Errorf("no resolved user identity")
	}
	return &Result{Value: inv.User.Sub}, nil
}

func setUserEmail(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	if inv.User == nil {
		return nil, fmt.Errorf("no resolved user identity")
	}
	return &Result{Value: inv.User.Email}, nil
}

func setUserDisplayName(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	if inv.User == nil {
		return nil, fmt.Errorf("no resolved user identity")
	}
	return &Result{Value: inv.User.DisplayName}, nil
}

// adoptMintedValue carries a value minted by the uuid service (uuid,
// hubmap_id, submission_id) from the working record onto the node. The
// worker merges minted ids in before triggers run, so absence is a bug.
func adoptMintedValue(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	value, err := requireMergedString(inv, inv.Key)
	if err != nil {
		return nil, err
	}
	return &Result{Value: value}, nil
}

func setGroupUUID(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	group, err := resolveGroup(ctx, deps, inv)
	if err != nil {
		return nil, err
	}
	return &Result{Value: group.UUID}, nil
}

func setGroupName(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	group, err := resolveGroup(ctx, deps, inv)
	if err != nil {
		return nil, err
	}
	return &Result{Value: group.Name}, nil
}

// resolveGroup validates an explicit group_uuid or falls back to the user's
// single data-provider group.
func resolveGroup(ctx context.Context, deps *Deps, inv *Invocation) (*globus.Group, error) {
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth client not configured")
	}
	if uuid, ok := stringValue(inv.Merged, schema.KeyGroupUUID); ok {
		return deps.Auth.GroupByUUID(ctx, uuid)
	}
	if inv.User == nil {
		return nil, fmt.Errorf("no group_uuid supplied and no user identity to resolve one")
	}
	return deps.Auth.ResolveDataProviderGroup(ctx, inv.User)
}
