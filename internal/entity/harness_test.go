package entity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/apierr"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
	"github.com/hubmapconsortium/entity-api/internal/schema/trigger"
)

// memStore is an in-memory graph.Store: nodes keyed by uuid, linkage calls
// recorded for assertions.
type memStore struct {
	mu    sync.Mutex
	nodes map[string]graph.Entity

	LinkedParents        map[string][]string
	ActivityOf           map[string]string
	UpdatedProps         map[string]graph.Entity
	parentsOf            map[string][]string
	nextRevisionsOf      map[string][]string
	nestedRevisions      bool
	publishedDescendants map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		nodes:                map[string]graph.Entity{},
		LinkedParents:        map[string][]string{},
		ActivityOf:           map[string]string{},
		UpdatedProps:         map[string]graph.Entity{},
		parentsOf:            map[string][]string{},
		nextRevisionsOf:      map[string][]string{},
		publishedDescendants: map[string]int{},
	}
}

func (s *memStore) put(node graph.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uuid, _ := node["uuid"].(string)
	s.nodes[uuid] = node
}

func copyEntity(node graph.Entity) graph.Entity {
	if node == nil {
		return nil
	}
	out := make(graph.Entity, len(node))
	for k, v := range node {
		out[k] = v
	}
	return out
}

func (s *memStore) GetEntity(ctx context.Context, uuid string) (graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEntity(s.nodes[uuid]), nil
}

func (s *memStore) EntityExists(ctx context.Context, uuid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[uuid]
	return ok, nil
}

func (s *memStore) CreateEntity(ctx context.Context, labels []string, props graph.Entity) (graph.Entity, error) {
	s.put(copyEntity(props))
	return copyEntity(props), nil
}

func (s *memStore) UpdateEntity(ctx context.Context, uuid string, props graph.Entity) (graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.nodes[uuid]
	if node == nil {
		return nil, fmt.Errorf("memStore: no node %s", uuid)
	}
	for k, v := range props {
		if v == nil {
			delete(node, k)
			continue
		}
		node[k] = v
	}
	s.UpdatedProps[uuid] = copyEntity(props)
	return copyEntity(node), nil
}

func (s *memStore) GetEntitiesByType(ctx context.Context, entityType string, opts graph.LineageOptions) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.Entity
	for _, node := range s.nodes {
		if node["entity_type"] == entityType {
			out = append(out, copyEntity(node))
		}
	}
	return out, nil
}

func (s *memStore) LinkEntityToParents(ctx context.Context, entityUUID string, parentUUIDs []string, activityProps graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LinkedParents[entityUUID] = parentUUIDs
	s.parentsOf[entityUUID] = parentUUIDs
	if uuid, _ := activityProps["uuid"].(string); uuid != "" {
		s.ActivityOf[entityUUID] = uuid
	}
	return nil
}

func (s *memStore) GetCreationActivity(ctx context.Context, entityUUID string) (graph.Entity, error) {
	return nil, nil
}

func (s *memStore) LinkRevision(ctx context.Context, revisionUUID, previousRevisionUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRevisionsOf[previousRevisionUUID] = append(s.nextRevisionsOf[previousRevisionUUID], revisionUUID)
	return nil
}

func (s *memStore) LinkCollectionDatasets(ctx context.Context, collectionUUID string, datasetUUIDs []string) error {
	return nil
}

func (s *memStore) LinkUploadDatasets(ctx context.Context, uploadUUID string, datasetUUIDs []string) error {
	return nil
}

func (s *memStore) LinkPublicationCollection(ctx context.Context, publicationUUID, collectionUUID string) error {
	return nil
}

func (s *memStore) lookup(uuids []string) []graph.Entity {
	var out []graph.Entity
	for _, uuid := range uuids {
		if node := s.nodes[uuid]; node != nil {
			out = append(out, copyEntity(node))
		} else {
			out = append(out, graph.Entity{"uuid": uuid})
		}
	}
	return out
}

func (s *memStore) GetAncestors(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.parentsOf[uuid]), nil
}

func (s *memStore) GetDescendants(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetParents(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.parentsOf[uuid]), nil
}

func (s *memStore) GetChildren(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetSiblings(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetTuplets(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetPreviousRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	return nil, nil
}

func (s *memStore) GetNextRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRevisionsOf[uuid], nil
}

func (s *memStore) GetSortedRevisions(ctx context.Context, uuid string) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) HasNestedPreviousRevisions(ctx context.Context, uuid string) (bool, error) {
	return s.nestedRevisions, nil
}

func (s *memStore) CountPublishedDescendantDatasets(ctx context.Context, uuid string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishedDescendants[uuid], nil
}

func (s *memStore) GetCollectionDatasets(ctx context.Context, collectionUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetUploadDatasets(ctx context.Context, uploadUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetEntityCollections(ctx context.Context, entityUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetEntityUpload(ctx context.Context, entityUUID string) (graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetPublicationCollection(ctx context.Context, publicationUUID string) (graph.Entity, error) {
	return nil, nil
}

func (s *memStore) GetProvenanceSubgraph(ctx context.Context, uuid string, depth int) (*graph.Subgraph, error) {
	return &graph.Subgraph{}, nil
}

type fakeUUID struct {
	mu      sync.Mutex
	seq     int
	Minted  []uuidapi.MintRequest
	unknown map[string]bool
}

func (f *fakeUUID) Resolve(ctx context.Context, token, id string) (*uuidapi.IDRecord, error) {
	if f.unknown[id] {
		return nil, apierr.NotFound("id_not_found", fmt.Errorf("fakeUUID: unknown id %s", id))
	}
	return &uuidapi.IDRecord{UUID: id}, nil
}

func (f *fakeUUID) Mint(ctx context.Context, token string, req uuidapi.MintRequest) ([]uuidapi.IDRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Minted = append(f.Minted, req)
	count := req.Count
	if count <= 0 {
		count = 1
	}
	records := make([]uuidapi.IDRecord, count)
	for i := range records {
		f.seq++
		records[i] = uuidapi.IDRecord{
			UUID:     fmt.Sprintf("minted-%d", f.seq),
			HubmapID: fmt.Sprintf("HBM%d", f.seq),
		}
	}
	return records, nil
}

type fakeAuth struct {
	users  map[string]*globus.UserInfo
	groups []globus.Group
}

func (f *fakeAuth) UserInfo(ctx context.Context, token string) (*globus.UserInfo, error) {
	if user, ok := f.users[token]; ok {
		return user, nil
	}
	return nil, apierr.Unauthorized("token_invalid", fmt.Errorf("fakeAuth: bad token"))
}

func (f *fakeAuth) Groups(ctx context.Context) ([]globus.Group, error) { return f.groups, nil }

func (f *fakeAuth) GroupByUUID(ctx context.Context, uuid string) (*globus.Group, error) {
	for i := range f.groups {
		if f.groups[i].UUID == uuid {
			return &f.groups[i], nil
		}
	}
	return nil, apierr.BadRequest("unknown_group", fmt.Errorf("fakeAuth: unknown group %s", uuid))
}

func (f *fakeAuth) ResolveDataProviderGroup(ctx context.Context, user *globus.UserInfo) (*globus.Group, error) {
	var matches []globus.Group
	for _, g := range f.groups {
		if g.DataProvider && user.HasGroup(g.UUID) {
			matches = append(matches, g)
		}
	}
	if len(matches) != 1 {
		return nil, apierr.BadRequest("no_data_provider_group", fmt.Errorf("fakeAuth: %d matches", len(matches)))
	}
	return &matches[0], nil
}

func (f *fakeAuth) ServiceToken() (string, error) { return "service-token", nil }

// spyCache records invalidations over a plain map.
type spyCache struct {
	mu      sync.Mutex
	entries map[string]map[string]any
	Deleted []string
}

func newSpyCache() *spyCache {
	return &spyCache{entries: map[string]map[string]any{}}
}

func (c *spyCache) Get(ctx context.Context, uuid string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[uuid]
	return entry, ok
}

func (c *spyCache) Set(ctx context.Context, uuid string, entity map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uuid] = entity
}

func (c *spyCache) Delete(ctx context.Context, uuids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, uuid := range uuids {
		delete(c.entries, uuid)
		c.Deleted = append(c.Deleted, uuid)
	}
}

const workerYAML = `
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
    excluded_properties_from_public_response:
      - lab_dataset_id
    properties:
      uuid:
        type: string
        generated: true
        immutable: true
        before_create_trigger: set_uuid
      hubmap_id:
        type: string
        generated: true
        immutable: true
        before_create_trigger: set_hubmap_id
      entity_type:
        type: string
        generated: true
        immutable: true
        before_create_trigger: set_entity_type
      status:
        type: string
        generated: true
        before_create_trigger: set_dataset_status_new
        before_property_update_validators:
          - validate_status_transition
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
      description:
        type: string
      lab_dataset_id:
        type: string
      direct_ancestor_uuids:
        type: list
        transient: true
        after_create_trigger: link_to_direct_ancestors
  Donor:
    properties:
      uuid:
        type: string
        generated: true
        immutable: true
      entity_type:
        type: string
        generated: true
        immutable: true
      data_access_level:
        type: string
        generated: true
  Collection:
    properties:
      uuid:
        type: string
        generated: true
        immutable: true
      entity_type:
        type: string
        generated: true
        immutable: true
      registered_doi:
        type: string
      title:
        type: string
`

type testEnv struct {
	Worker *Worker
	Store  *memStore
	Cache  *spyCache
	UUID   *fakeUUID
	Auth   *fakeAuth
}

func newTestEnv(t *testing.T, readGroup string) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(workerYAML), 0o600); err != nil {
		t.Fatalf("write schema fixture: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	registry, err := schema.NewRegistry(path, time.Minute, log)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := newMemStore()
	entityCache := newSpyCache()
	uuidClient := &fakeUUID{unknown: map[string]bool{}}
	authClient := &fakeAuth{users: map[string]*globus.UserInfo{
		"member-token":   {Sub: "member-sub", Email: "m@example.edu", DisplayName: "Member", GroupUUIDs: []string{"read-grp", "grp-1"}},
		"guest-token":    {Sub: "guest-sub", Email: "g@example.edu", DisplayName: "Guest", GroupUUIDs: []string{"grp-other"}},
		"outsider-token": {Sub: "outsider-sub", Email: "o@example.edu", DisplayName: "Outsider", GroupUUIDs: []string{"read-grp"}},
	}}

	engine, err := trigger.NewEngine(context.Background(), &trigger.Deps{
		Registry: registry,
		Store:    store,
		UUID:     uuidClient,
		Auth:     authClient,
		Cache:    entityCache,
		Log:      log,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	worker, err := NewWorker(Config{
		Registry:      registry,
		Engine:        engine,
		Store:         store,
		UUID:          uuidClient,
		Auth:          authClient,
		Cache:         entityCache,
		Log:           log,
		ReadGroupUUID: readGroup,
	})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	return &testEnv{Worker: worker, Store: store, Cache: entityCache, UUID: uuidClient, Auth: authClient}
}

func (e *testEnv) caller(t *testing.T, token string) *Caller {
	t.Helper()
	caller, err := e.Worker.ResolveCaller(context.Background(), token, "ingest-api")
	if err != nil {
		t.Fatalf("ResolveCaller(%s): %v", token, err)
	}
	return caller
}
