package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/hubmapconsortium/entity-api/internal/cache"
	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
	"github.com/hubmapconsortium/entity-api/internal/schema/trigger"
)

// Worker orchestrates entity operations: identifier resolution, cache-aside
// reads, schema validation, trigger execution, persistence, visibility and
// authorization.
type Worker struct {
	registry *schema.Registry
	engine   *trigger.Engine
	store    graph.Store
	uuid     uuidapi.Client
	auth     globus.Client
	cache    cache.EntityCache
	log      *logger.Logger

	// members of this group may read nonpublic entities
	readGroupUUID string
}

type Config struct {
	Registry *schema.Registry
	Engine   *trigger.Engine
	Store    graph.Store
	UUID     uuidapi.Client
	Auth     globus.Client
	Cache    cache.EntityCache
	Log      *logger.Logger

	// ReadGroupUUID is the group whose members may read nonpublic entities.
	ReadGroupUUID string
}

func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Registry == nil || cfg.Engine == nil || cfg.Store == nil || cfg.Log == nil {
		return nil, fmt.Errorf("entity: registry, engine, store and logger are required")
	}
	entityCache := cfg.Cache
	if entityCache == nil {
		entityCache = cache.Noop{}
	}
	return &Worker{
		registry:      cfg.Registry,
		engine:        cfg.Engine,
		store:         cfg.Store,
		uuid:          cfg.UUID,
		auth:          cfg.Auth,
		cache:         entityCache,
		log:           cfg.Log.With("component", "EntityWorker"),
		readGroupUUID: strings.TrimSpace(cfg.ReadGroupUUID),
	}, nil
}

// Caller is the resolved identity and privileges behind one request.
type Caller struct {
	User      *globus.UserInfo
	Token     string
	AppHeader string
	HasRead   bool
}

func (c *Caller) readContext() trigger.ReadContext {
	return trigger.ReadContext{User: c.User, Token: c.Token, AppHeader: c.AppHeader}
}

// ResolveCaller turns a bearer token into a Caller. An empty token yields an
// anonymous caller; an invalid one is a 401.
func (w *Worker) ResolveCaller(ctx context.Context, token, appHeader string) (*Caller, error) {
	caller := &Caller{Token: token, AppHeader: appHeader}
	if strings.TrimSpace(token) == "" {
		return caller, nil
	}
	if w.auth == nil {
		return nil, apierr.Internal("auth_not_configured", fmt.Errorf("entity: auth client not configured"))
	}
	user, err := w.auth.UserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	caller.User = user
	caller.HasRead = w.readGroupUUID == "" || user.HasGroup(w.readGroupUUID)
	return caller, nil
}

// resolveUUID maps any public identifier to the entity uuid.
func (w *Worker) resolveUUID(ctx context.Context, caller *Caller, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apierr.BadRequest("id_required", fmt.Errorf("entity: empty id"))
	}
	if w.uuid == nil {
		return id, nil
	}
	record, err := w.uuid.Resolve(ctx, caller.Token, id)
	if err != nil {
		return "", err
	}
	return record.UUID, nil
}

// loadEntity is the cache-aside read of the raw node.
func (w *Worker) loadEntity(ctx context.Context, uuid string) (graph.Entity, error) {
	if cached, ok := w.cache.Get(ctx, uuid); ok {
		return cached, nil
	}
	node, err := w.store.GetEntity(ctx, uuid)
	if err != nil {
		return nil, apierr.Internal("graph_error", err)
	}
	if node == nil {
		return nil, apierr.NotFound("entity_not_found", fmt.Errorf("entity: no entity with uuid %s", uuid))
	}
	w.cache.Set(ctx, uuid, node)
	return node, nil
}

// isPublic classifies a raw entity for anonymous visibility.
//
// Datasets (and publications) are public once published. Collections are
// public once they carry a registered DOI. Donors and samples go public with
// their computed access level. Uploads are never public.
func (w *Worker) isPublic(ctx context.Context, entity graph.Entity) (bool, error) {
	entityType, _ := entity["entity_type"].(string)
	if entityType == "" {
		return false, nil
	}
	if isDataset, err := w.registry.InstanceOf(ctx, entityType, schema.TypeDataset); err != nil {
		return false, err
	} else if isDataset {
		status, _ := entity[schema.KeyStatus].(string)
		return status == schema.StatusPublished, nil
	}
	if isCollection, err := w.registry.InstanceOf(ctx, entityType, schema.TypeCollection); err != nil {
		return false, err
	} else if isCollection {
		doi, _ := entity["registered_doi"].(string)
		return strings.TrimSpace(doi) != "", nil
	}
	switch entityType {
	case schema.TypeDonor, schema.TypeSample:
		level, _ := entity[schema.KeyDataAccessLevel].(string)
		return level == schema.AccessLevelPublic, nil
	}
	return false, nil
}

// authorizeRead gates a raw entity against the caller. Nonpublic entities
// need a read-group member: anonymous callers get 401, authenticated callers
// without the group get 403.
func (w *Worker) authorizeRead(ctx context.Context, caller *Caller, entity graph.Entity) (public bool, err error) {
	public, err = w.isPublic(ctx, entity)
	if err != nil {
		return false, apierr.Internal("visibility_error", err)
	}
	if public || caller.HasRead {
		return public, nil
	}
	if caller.User == nil {
		return false, apierr.Unauthorized("token_required",
			fmt.Errorf("entity: nonpublic entity requires authentication"))
	}
	return false, apierr.Forbidden("read_group_required",
		fmt.Errorf("entity: user %s lacks read access", caller.User.Sub))
}

// authorizeWrite gates updates: the caller must be able to read the entity
// and, when the entity records an owning group, belong to it.
func (w *Worker) authorizeWrite(ctx context.Context, caller *Caller, entity graph.Entity) error {
	if caller.User == nil {
		return apierr.Unauthorized("token_required",
			fmt.Errorf("entity: update requires authentication"))
	}
	if _, err := w.authorizeRead(ctx, caller, entity); err != nil {
		return err
	}
	group, _ := entity[schema.KeyGroupUUID].(string)
	if group == "" || caller.User.HasGroup(group) {
		return nil
	}
	return apierr.Forbidden("write_group_required",
		fmt.Errorf("entity: user %s is not a member of group %s", caller.User.Sub, group))
}

// GetEntity reads one entity: resolve id, cache-aside load, on-read
// triggers, visibility and authorization, then response normalization. The
// public flag of normalization follows the caller's privileges, not the
// entity's visibility: consortium members see excluded fields.
func (w *Worker) GetEntity(ctx context.Context, caller *Caller, id string) (map[string]any, error) {
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
	completed, err := w.engine.CompleteEntity(ctx, node, caller.readContext())
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}
	entityType, _ := node["entity_type"].(string)
	def, err := w.registry.EntityDef(ctx, entityType)
	if err != nil {
		return nil, apierr.Internal("schema_error", err)
	}
	return schema.NormalizeResponse(def, completed, !caller.HasRead), nil
}

// completeAndNormalize shapes a list of raw nodes for a response, filtering
// to public entities for callers without read privileges.
func (w *Worker) completeAndNormalize(ctx context.Context, caller *Caller, nodes []graph.Entity) ([]map[string]any, error) {
	visible := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		if !caller.HasRead {
			public, err := w.isPublic(ctx, node)
			if err != nil {
				return nil, apierr.Internal("visibility_error", err)
			}
			if !public {
				continue
			}
		}
		visible = append(visible, node)
	}
	completed, err := w.engine.CompleteEntities(ctx, visible, caller.readContext())
	if err != nil {
		return nil, apierr.Internal("trigger_error", err)
	}
	out := make([]map[string]any, 0, len(completed))
	for _, entity := range completed {
		entityType, _ := entity["entity_type"].(string)
		def, err := w.registry.EntityDef(ctx, entityType)
		if err != nil {
			return nil, apierr.Internal("schema_error", err)
		}
		out = append(out, schema.NormalizeResponse(def, entity, !caller.HasRead))
	}
	return out, nil
}
