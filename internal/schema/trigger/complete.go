package trigger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// ReadContext carries the caller identity through read-time completion.
type ReadContext struct {
	User      *globus.UserInfo
	Token     string
	AppHeader string
}

// CompleteEntity decodes a raw node and runs its on-read triggers, returning
// the enriched record.
func (e *Engine) CompleteEntity(ctx context.Context, entity map[string]any, rc ReadContext) (map[string]any, error) {
	entityType, _ := entity["entity_type"].(string)
	if entityType == "" {
		return nil, fmt.Errorf("trigger: entity has no entity_type")
	}
	def, err := e.deps.Registry.EntityDef(ctx, entityType)
	if err != nil {
		return nil, err
	}
	decoded := schema.DecodeStoredValues(def, entity)
	return e.Run(ctx, schema.EventOnRead, RunInput{
		EntityType: entityType,
		Def:        def,
		Existing:   decoded,
		User:       rc.User,
		Token:      rc.Token,
		AppHeader:  rc.AppHeader,
	})
}

// completionParallelism bounds concurrent on-read completion; each entity
// can fan out several graph queries of its own.
const completionParallelism = 8

// CompleteEntities runs CompleteEntity over a list concurrently, preserving
// order. The first failure cancels the rest.
func (e *Engine) CompleteEntities(ctx context.Context, entities []map[string]any, rc ReadContext) ([]map[string]any, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	out := make([]map[string]any, len(entities))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(completionParallelism)
	for i := range entities {
		i := i
		group.Go(func() error {
			completed, err := e.CompleteEntity(groupCtx, entities[i], rc)
			if err != nil {
				return err
			}
			out[i] = completed
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
