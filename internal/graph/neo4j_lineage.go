package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Traversals exclude the synthetic Lab registration root; it anchors donors
// in the graph but is not provenance.

func (s *Neo4jStore) GetAncestors(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("ancestor", opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_INPUT|ACTIVITY_OUTPUT*]-(ancestor:Entity)
WHERE ancestor.entity_type <> 'Lab'
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, proj)
	entities, err := s.readEntities(ctx, query, map[string]any{"uuid": uuid}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: ancestors of %s: %w", uuid, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetDescendants(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("descendant", opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})-[:ACTIVITY_INPUT|ACTIVITY_OUTPUT*]->(descendant:Entity)
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, proj)
	entities, err := s.readEntities(ctx, query, map[string]any{"uuid": uuid}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: descendants of %s: %w", uuid, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetParents(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("parent", opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_OUTPUT]-(:Activity)<-[:ACTIVITY_INPUT]-(parent:Entity)
WHERE parent.entity_type <> 'Lab'
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, proj)
	entities, err := s.readEntities(ctx, query, map[string]any{"uuid": uuid}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: parents of %s: %w", uuid, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetChildren(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("child", opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})-[:ACTIVITY_INPUT]->(:Activity)-[:ACTIVITY_OUTPUT]->(child:Entity)
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, proj)
	entities, err := s.readEntities(ctx, query, map[string]any{"uuid": uuid}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: children of %s: %w", uuid, err)
	}
	return entities, nil
}

// GetSiblings finds other children of the entity's parents. Unless
// IncludeRevisions is set, siblings that already have a newer revision are
// dropped so only chain heads come back.
func (s *Neo4jStore) GetSiblings(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("sibling", opts)
	if err != nil {
		return nil, err
	}
	filters := "sibling.uuid <> $uuid"
	params := map[string]any{"uuid": uuid}
	if !opts.IncludeRevisions {
		filters += "\n  AND NOT (sibling)<-[:REVISION_OF]-(:Entity)"
	}
	if opts.StatusFilter != "" {
		filters += "\n  AND sibling.status = $status"
		params["status"] = opts.StatusFilter
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_OUTPUT]-(:Activity)<-[:ACTIVITY_INPUT]-(parent:Entity)
MATCH (parent)-[:ACTIVITY_INPUT]->(:Activity)-[:ACTIVITY_OUTPUT]->(sibling:Entity)
WHERE %s
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, filters, proj)
	entities, err := s.readEntities(ctx, query, params, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: siblings of %s: %w", uuid, err)
	}
	return entities, nil
}

// GetTuplets finds entities produced by the same Activity.
func (s *Neo4jStore) GetTuplets(ctx context.Context, uuid string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("tuplet", opts)
	if err != nil {
		return nil, err
	}
	filters := "tuplet.uuid <> $uuid"
	params := map[string]any{"uuid": uuid}
	if opts.StatusFilter != "" {
		filters += "\n  AND tuplet.status = $status"
		params["status"] = opts.StatusFilter
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_OUTPUT]-(a:Activity)-[:ACTIVITY_OUTPUT]->(tuplet:Entity)
WHERE %s
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, filters, proj)
	entities, err := s.readEntities(ctx, query, params, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: tuplets of %s: %w", uuid, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetPreviousRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	uuids, err := s.readValues(ctx, `
MATCH (e:Entity {uuid: $uuid})-[:REVISION_OF]->(prev:Entity)
RETURN COLLECT(prev.uuid) AS uuids
`, map[string]any{"uuid": uuid}, "uuids")
	if err != nil {
		return nil, fmt.Errorf("graph: previous revisions of %s: %w", uuid, err)
	}
	return uuids, nil
}

func (s *Neo4jStore) GetNextRevisionUUIDs(ctx context.Context, uuid string) ([]string, error) {
	uuids, err := s.readValues(ctx, `
MATCH (e:Entity {uuid: $uuid})<-[:REVISION_OF]-(next:Entity)
RETURN COLLECT(next.uuid) AS uuids
`, map[string]any{"uuid": uuid}, "uuids")
	if err != nil {
		return nil, fmt.Errorf("graph: next revisions of %s: %w", uuid, err)
	}
	return uuids, nil
}

// GetSortedRevisions walks the REVISION_OF chain in both directions from the
// given entity and returns the whole chain newest first, so the result is
// identical no matter which member the walk starts from.
func (s *Neo4jStore) GetSortedRevisions(ctx context.Context, uuid string) ([]Entity, error) {
	entities, err := s.readEntities(ctx, `
MATCH (e:Entity {uuid: $uuid})
OPTIONAL MATCH (e)-[:REVISION_OF*0..]->(earlier:Entity)
OPTIONAL MATCH (later:Entity)-[:REVISION_OF*0..]->(e)
WITH COLLECT(DISTINCT earlier) + COLLECT(DISTINCT later) AS members
UNWIND members AS member
WITH DISTINCT member
WHERE member IS NOT NULL
MATCH path = (member)-[:REVISION_OF*0..]->(root:Entity)
WHERE NOT (root)-[:REVISION_OF]->(:Entity)
WITH member, length(path) AS depth
ORDER BY depth DESC
RETURN COLLECT(member) AS entities
`, map[string]any{"uuid": uuid}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: sorted revisions of %s: %w", uuid, err)
	}
	return entities, nil
}

// HasNestedPreviousRevisions reports whether any member of the revision chain
// points at more than one previous revision, which makes the chain a tree
// instead of a list.
func (s *Neo4jStore) HasNestedPreviousRevisions(ctx context.Context, uuid string) (bool, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (member:Entity)
WHERE (member)-[:REVISION_OF*0..]->(:Entity {uuid: $uuid})
   OR (:Entity {uuid: $uuid})-[:REVISION_OF*0..]->(member)
MATCH (member)-[:REVISION_OF]->(prev:Entity)
WITH member, COUNT(prev) AS prev_count
RETURN COUNT(CASE WHEN prev_count > 1 THEN 1 END) > 0 AS nested
`, map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("nested")
		return raw, nil
	})
	if err != nil {
		return false, fmt.Errorf("graph: nested revisions of %s: %w", uuid, err)
	}
	nested, _ := result.(bool)
	return nested, nil
}

func (s *Neo4jStore) CountPublishedDescendantDatasets(ctx context.Context, uuid string) (int, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})-[:ACTIVITY_INPUT|ACTIVITY_OUTPUT*]->(d:Dataset)
WHERE d.status = 'Published'
RETURN COUNT(DISTINCT d) AS published
`, map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("published")
		return raw, nil
	})
	if err != nil {
		return 0, fmt.Errorf("graph: published descendants of %s: %w", uuid, err)
	}
	count, _ := result.(int64)
	return int(count), nil
}

func (s *Neo4jStore) GetCollectionDatasets(ctx context.Context, collectionUUID string) ([]Entity, error) {
	entities, err := s.readEntities(ctx, `
MATCH (d:Entity)-[:IN_COLLECTION]->(c:Entity {uuid: $uuid})
RETURN apoc.coll.toSet(COLLECT(d)) AS entities
`, map[string]any{"uuid": collectionUUID}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: datasets of collection %s: %w", collectionUUID, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetUploadDatasets(ctx context.Context, uploadUUID string) ([]Entity, error) {
	entities, err := s.readEntities(ctx, `
MATCH (d:Entity)-[:IN_UPLOAD]->(u:Entity {uuid: $uuid})
RETURN apoc.coll.toSet(COLLECT(d)) AS entities
`, map[string]any{"uuid": uploadUUID}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: datasets of upload %s: %w", uploadUUID, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetEntityCollections(ctx context.Context, entityUUID string) ([]Entity, error) {
	entities, err := s.readEntities(ctx, `
MATCH (e:Entity {uuid: $uuid})-[:IN_COLLECTION]->(c:Entity)
RETURN apoc.coll.toSet(COLLECT(c)) AS entities
`, map[string]any{"uuid": entityUUID}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: collections of %s: %w", entityUUID, err)
	}
	return entities, nil
}

func (s *Neo4jStore) GetEntityUpload(ctx context.Context, entityUUID string) (Entity, error) {
	return s.readOptionalNode(ctx, `
MATCH (e:Entity {uuid: $uuid})-[:IN_UPLOAD]->(u:Entity)
RETURN u AS node
`, map[string]any{"uuid": entityUUID})
}

func (s *Neo4jStore) GetPublicationCollection(ctx context.Context, publicationUUID string) (Entity, error) {
	return s.readOptionalNode(ctx, `
MATCH (p:Entity {uuid: $uuid})-[:USES_DATA]->(c:Entity)
RETURN c AS node
`, map[string]any{"uuid": publicationUUID})
}

func (s *Neo4jStore) readOptionalNode(ctx context.Context, query string, params map[string]any) (Entity, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		raw, _ := records[0].Get("node")
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: read node: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	entity, _ := entityFromRecordValue(result)
	return entity, nil
}
