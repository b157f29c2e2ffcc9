package graph

import "context"

// Entity is a node's property map as loaded from the graph store. Nested
// values arrive as JSON strings; the schema layer decodes them.
type Entity = map[string]any

// Relationship is one edge of a provenance subgraph.
type Relationship struct {
	SourceUUID string `json:"source_node_uuid"`
	TargetUUID string `json:"target_node_uuid"`
	Type       string `json:"rel_type"`
}

// SubgraphNode is one provenance node with its graph labels, which tell
// Entity and Activity nodes apart in the PROV output.
type SubgraphNode struct {
	Labels     []string `json:"labels"`
	Properties Entity   `json:"properties"`
}

// Subgraph is the {nodes, relationships} contract consumed by PROV tooling.
type Subgraph struct {
	Nodes         []SubgraphNode `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

// LineageOptions narrow a traversal result.
type LineageOptions struct {
	// Property, when set, makes the traversal return only that property of
	// each matched node instead of the full node.
	Property string
	// StatusFilter keeps only Dataset nodes with the given status.
	StatusFilter string
	// IncludeRevisions keeps revision ancestors/descendants of the matched
	// nodes in sibling queries.
	IncludeRevisions bool
}

// Store is the graph persistence surface the trigger engine and the entity
// worker run against.
type Store interface {
	// Entity CRUD
	GetEntity(ctx context.Context, uuid string) (Entity, error)
	EntityExists(ctx context.Context, uuid string) (bool, error)
	CreateEntity(ctx context.Context, labels []string, props Entity) (Entity, error)
	UpdateEntity(ctx context.Context, uuid string, props Entity) (Entity, error)
	GetEntitiesByType(ctx context.Context, entityType string, opts LineageOptions) ([]Entity, error)

	// Activity linkage. Relinking replaces the prior creation Activity and
	// its edges in the same transaction.
	LinkEntityToParents(ctx context.Context, entityUUID string, parentUUIDs []string, activityProps Entity) error
	GetCreationActivity(ctx context.Context, entityUUID string) (Entity, error)

	// Direct relationship links
	LinkRevision(ctx context.Context, revisionUUID, previousRevisionUUID string) error
	LinkCollectionDatasets(ctx context.Context, collectionUUID string, datasetUUIDs []string) error
	LinkUploadDatasets(ctx context.Context, uploadUUID string, datasetUUIDs []string) error
	LinkPublicationCollection(ctx context.Context, publicationUUID, collectionUUID string) error

	// Lineage traversals
	GetAncestors(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)
	GetDescendants(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)
	GetParents(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)
	GetChildren(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)
	GetSiblings(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)
	GetTuplets(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error)

	// Revision chain
	GetPreviousRevisionUUIDs(ctx context.Context, uuid string) ([]string, error)
	GetNextRevisionUUIDs(ctx context.Context, uuid string) ([]string, error)
	GetSortedRevisions(ctx context.Context, uuid string) ([]Entity, error)
	HasNestedPreviousRevisions(ctx context.Context, uuid string) (bool, error)

	// Aggregates and associations
	CountPublishedDescendantDatasets(ctx context.Context, uuid string) (int, error)
	GetCollectionDatasets(ctx context.Context, collectionUUID string) ([]Entity, error)
	GetUploadDatasets(ctx context.Context, uploadUUID string) ([]Entity, error)
	GetEntityCollections(ctx context.Context, entityUUID string) ([]Entity, error)
	GetEntityUpload(ctx context.Context, entityUUID string) (Entity, error)
	GetPublicationCollection(ctx context.Context, publicationUUID string) (Entity, error)

	// Provenance
	GetProvenanceSubgraph(ctx context.Context, uuid string, depth int) (*Subgraph, error)
}
