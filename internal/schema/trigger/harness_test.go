package trigger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

// fakeStore satisfies graph.Store with overridable behavior per method.
// Unset methods return zero values.
type fakeStore struct {
	GetEntityFn           func(ctx context.Context, uuid string) (graph.Entity, error)
	GetAncestorsFn        func(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error)
	GetParentsFn          func(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error)
	GetNextRevisionsFn    func(ctx context.Context, uuid string) ([]string, error)
	CountPublishedFn      func(ctx context.Context, uuid string) (int, error)
	GetCreationActivityFn func(ctx context.Context, uuid string) (graph.Entity, error)

	LinkedParents     [][]string
	LinkedActivity    graph.Entity
	LinkedRevisions   [][2]string
	LinkedCollections map[string][]string
	LinkedUploads     map[string][]string
	LinkedPubCols     map[string]string
}

func (f *fakeStore) GetEntity(ctx context.Context, uuid string) (graph.Entity, error) {
	if f.GetEntityFn != nil {
		return f.GetEntityFn(ctx, uuid)
	}
	return nil, nil
}

func (f *fakeStore) EntityExists(ctx context.Context, uuid string) (bool, error) { return false, nil }

func (f *fakeStore) CreateEntity(ctx context.Context, labels []string, props graph.Entity) (graph.Entity, error) {
	return props, nil
}

func (f *fakeStore) UpdateEntity(ctx context.Context, uuid string, props graph.Entity) (graph.Entity, error) {
	return props, nil
}

func (f *fakeStore) GetEntitiesByType(ctx context.Context, entityType string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) LinkEntityToParents(ctx context.Context, entityUUID string, parentUUIDs []string, activityProps graph.Entity) error {
	f.LinkedParents = append(f.LinkedParents, parentUUIDs)
	f.LinkedActivity = activityProps
	return nil
}

func (f *fakeStore) GetCreationActivity(ctx context.Context, entityUUID string) (graph.Entity, error) {
	if f.GetCreationActivityFn != nil {
		return f.GetCreationActivityFn(ctx, entityUUID)
	}
	return nil, nil
}

func (f *fakeStore) LinkRevision(ctx context.Context, revisionUUID, previousRevisionUUID string) error {
	f.LinkedRevisions = append(f.LinkedRevisions, [2]string{revisionUUID, previousRevisionUUID})
	return nil
}

func (f *fakeStore) LinkCollectionDatasets(ctx context.Context, collectionUUID string, datasetUUIDs []string) error {
	if f.LinkedCollections == nil {
		f.LinkedCollections = map[string][]string{}
	}
	f.LinkedCollections[collectionUUID] = datasetUUIDs
	return nil
}

func (f *fakeStore) LinkUploadDatasets(ctx context.Context, uploadUUID string, datasetUUIDs []string) error {
	if f.LinkedUploads == nil {
		f.LinkedUploads = map[string][]string{}
	}
	f.LinkedUploads[uploadUUID] = datasetUUIDs
	return nil
}

func (f *fakeStore) LinkPublicationCollection(ctx context.Context, publicationUUID, collectionUUID string) error {
	if f.LinkedPubCols == nil {
		f.LinkedPubCols = map[string]string{}
	}
	f.LinkedPubCols[publicationUUID] = collectionUUID
	return nil
}

func (f *fakeStore) GetAncestors(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	if f.GetAncestorsFn != nil {
		return f.GetAncestorsFn(ctx, uuid, opts)
	}
	return nil, nil
}

func (f *fakeStore) GetDescendants(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetParents(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	if f.GetParentsFn != nil {
		return f.GetParentsFn(ctx, uuid, opts)
	}
	return nil, nil
}

func (f *fakeStore) GetChildren(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetSiblings(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetTuplets(ctx context.Context, uuid string, opts graph.LineageOptions) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetPreviousRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) GetNextRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	if f.GetNextRevisionsFn != nil {
		return f.GetNextRevisionsFn(ctx, uuid)
	}
	return nil, nil
}

func (f *fakeStore) GetSortedRevisions(ctx context.Context, uuid string) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) HasNestedPreviousRevisions(ctx context.Context, uuid string) (bool, error) {
	return false, nil
}

func (f *fakeStore) CountPublishedDescendantDatasets(ctx context.Context, uuid string) (int, error) {
	if f.CountPublishedFn != nil {
		return f.CountPublishedFn(ctx, uuid)
	}
	return 0, nil
}

func (f *fakeStore) GetCollectionDatasets(ctx context.Context, collectionUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetUploadDatasets(ctx context.Context, uploadUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetEntityCollections(ctx context.Context, entityUUID string) ([]graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetEntityUpload(ctx context.Context, entityUUID string) (graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetPublicationCollection(ctx context.Context, publicationUUID string) (graph.Entity, error) {
	return nil, nil
}

func (f *fakeStore) GetProvenanceSubgraph(ctx context.Context, uuid string, depth int) (*graph.Subgraph, error) {
	return nil, nil
}

type fakeUUID struct {
	minted  []uuidapi.MintRequest
	nextSeq int
}

func (f *fakeUUID) Resolve(ctx context.Context, token, id string) (*uuidapi.IDRecord, error) {
	return &uuidapi.IDRecord{UUID: id}, nil
}

func (f *fakeUUID) Mint(ctx context.Context, token string, req uuidapi.MintRequest) ([]uuidapi.IDRecord, error) {
	f.minted = append(f.minted, req)
	count := req.Count
	if count <= 0 {
		count = 1
	}
	records := make([]uuidapi.IDRecord, count)
	for i := range records {
		f.nextSeq++
		records[i] = uuidapi.IDRecord{
			UUID:     fmt.Sprintf("minted-%d", f.nextSeq),
			HubmapID: fmt.Sprintf("HBM%d", f.nextSeq),
		}
		if req.EntityType == schema.TypeDonor || req.EntityType == schema.TypeSample {
			records[i].SubmissionID = fmt.Sprintf("SUB%d", f.nextSeq)
		}
	}
	return records, nil
}

type fakeAuth struct {
	user   *globus.UserInfo
	groups []globus.Group
}

func (f *fakeAuth) UserInfo(ctx context.Context, token string) (*globus.UserInfo, error) {
	if f.user == nil {
		return nil, fmt.Errorf("fakeAuth: no user")
	}
	return f.user, nil
}

func (f *fakeAuth) Groups(ctx context.Context) ([]globus.Group, error) {
	return f.groups, nil
}

func (f *fakeAuth) GroupByUUID(ctx context.Context, uuid string) (*globus.Group, error) {
	for i := range f.groups {
		if f.groups[i].UUID == uuid {
			return &f.groups[i], nil
		}
	}
	return nil, fmt.Errorf("fakeAuth: unknown group %s", uuid)
}

func (f *fakeAuth) ResolveDataProviderGroup(ctx context.Context, user *globus.UserInfo) (*globus.Group, error) {
	var matches []globus.Group
	for _, g := range f.groups {
		if g.DataProvider && user.HasGroup(g.UUID) {
			matches = append(matches, g)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("fakeAuth: %d data-provider groups", len(matches))
	}
	return &matches[0], nil
}

func (f *fakeAuth) ServiceToken() (string, error) { return "service-token", nil }

func testRegistry(t *testing.T, yamlDoc string) *schema.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
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
	return registry
}

func testDeps(t *testing.T, yamlDoc string, store *fakeStore) *Deps {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if store == nil {
		store = &fakeStore{}
	}
	return &Deps{
		Registry: testRegistry(t, yamlDoc),
		Store:    store,
		UUID:     &fakeUUID{},
		Auth:     &fakeAuth{},
		Log:      log,
	}
}

// typesOnlyYAML declares the type hierarchy without trigger bindings, for
// tests that call trigger functions directly.
const typesOnlyYAML = `
ACTIVITIES:
  Activity:
    properties:
      uuid:
        type: string
        generated: true
      creation_action:
        type: string
        generated: true
ENTITIES:
  Donor:
    properties:
      uuid:
        type: string
  Sample:
    properties:
      uuid:
        type: string
      rui_location:
        type: json_string
  Dataset:
    properties:
      uuid:
        type: string
  Publication:
    superclass: Dataset
    properties:
      uuid:
        type: string
`
