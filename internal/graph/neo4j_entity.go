package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *Neo4jStore) GetEntity(ctx context.Context, uuid string) (Entity, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})
RETURN e
`, map[string]any{"uuid": uuid})
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
		raw, _ := records[0].Get("e")
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: get entity %s: %w", uuid, err)
	}
	if result == nil {
		return nil, nil
	}
	entity, ok := entityFromRecordValue(result)
	if !ok {
		return nil, fmt.Errorf("graph: unexpected node shape %T", result)
	}
	return entity, nil
}

func (s *Neo4jStore) EntityExists(ctx context.Context, uuid string) (bool, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})
RETURN COUNT(e) > 0 AS exists
`, map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("exists")
		return raw, nil
	})
	if err != nil {
		return false, fmt.Errorf("graph: entity exists %s: %w", uuid, err)
	}
	exists, _ := result.(bool)
	return exists, nil
}

// CreateEntity persists a new node carrying the Entity label plus the type
// labels (the entity type and its superclasses).
func (s *Neo4jStore) CreateEntity(ctx context.Context, labels []string, props Entity) (Entity, error) {
	for _, label := range labels {
		if !validPropertyName(label) {
			return nil, fmt.Errorf("graph: invalid label %q", label)
		}
	}
	labelExpr := "Entity"
	if len(labels) > 0 {
		labelExpr = "Entity:" + strings.Join(labels, ":")
	}

	result, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
CREATE (e:%s)
SET e = $props
RETURN e
`, labelExpr), map[string]any{"props": map[string]any(props)})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("e")
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: create entity: %w", err)
	}
	entity, ok := entityFromRecordValue(result)
	if !ok {
		return nil, fmt.Errorf("graph: unexpected node shape %T", result)
	}
	return entity, nil
}

// UpdateEntity merges props into the existing node. A nil value removes the
// key; keys absent from props are untouched.
func (s *Neo4jStore) UpdateEntity(ctx context.Context, uuid string, props Entity) (Entity, error) {
	result, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})
SET e += $props
RETURN e
`, map[string]any{"uuid": uuid, "props": map[string]any(props)})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("e")
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: update entity %s: %w", uuid, err)
	}
	entity, ok := entityFromRecordValue(result)
	if !ok {
		return nil, fmt.Errorf("graph: unexpected node shape %T", result)
	}
	return entity, nil
}

func (s *Neo4jStore) GetEntitiesByType(ctx context.Context, entityType string, opts LineageOptions) ([]Entity, error) {
	proj, err := projection("e", opts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
MATCH (e:Entity {entity_type: $entity_type})
RETURN apoc.coll.toSet(COLLECT(%s)) AS entities
`, proj)
	entities, err := s.readEntities(ctx, query, map[string]any{"entity_type": entityType}, "entities")
	if err != nil {
		return nil, fmt.Errorf("graph: entities by type %s: %w", entityType, err)
	}
	return entities, nil
}

// LinkEntityToParents wires the creation Activity: any prior Activity of the
// entity is detached and deleted, the Activity node is merged by uuid, and
// the ACTIVITY_INPUT/ACTIVITY_OUTPUT edges are laid down, all in one
// transaction. The merge lets the entities of a multi-create request share
// one Activity: the first call creates the node, later calls attach to it.
func (s *Neo4jStore) LinkEntityToParents(ctx context.Context, entityUUID string, parentUUIDs []string, activityProps Entity) error {
	if len(parentUUIDs) == 0 {
		return fmt.Errorf("graph: link entity %s: no parents", entityUUID)
	}
	activityUUID, _ := activityProps["uuid"].(string)
	if activityUUID == "" {
		return fmt.Errorf("graph: link entity %s: activity has no uuid", entityUUID)
	}
	_, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_OUTPUT]-(old:Activity)
WHERE old.uuid <> $activity_uuid
DETACH DELETE old
`, map[string]any{"uuid": entityUUID, "activity_uuid": activityUUID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})
MERGE (a:Activity {uuid: $activity_uuid})
SET a += $activity
MERGE (a)-[:ACTIVITY_OUTPUT]->(e)
WITH a
UNWIND $parents AS parent_uuid
MATCH (p:Entity {uuid: parent_uuid})
MERGE (p)-[:ACTIVITY_INPUT]->(a)
RETURN count(p) AS matched
`, map[string]any{
			"uuid":          entityUUID,
			"activity_uuid": activityUUID,
			"activity":      map[string]any(activityProps),
			"parents":       parentUUIDs,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get("matched")
		if matched, ok := raw.(int64); !ok || matched != int64(len(parentUUIDs)) {
			return nil, fmt.Errorf("expected %d parents, matched %v", len(parentUUIDs), raw)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: link entity %s to parents: %w", entityUUID, err)
	}
	return nil
}

func (s *Neo4jStore) GetCreationActivity(ctx context.Context, entityUUID string) (Entity, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})<-[:ACTIVITY_OUTPUT]-(a:Activity)
RETURN a
`, map[string]any{"uuid": entityUUID})
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
		raw, _ := records[0].Get("a")
		return raw, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: creation activity of %s: %w", entityUUID, err)
	}
	if result == nil {
		return nil, nil
	}
	entity, _ := entityFromRecordValue(result)
	return entity, nil
}

func (s *Neo4jStore) LinkRevision(ctx context.Context, revisionUUID, previousRevisionUUID string) error {
	_, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (r:Entity {uuid: $revision}), (p:Entity {uuid: $previous})
MERGE (r)-[:REVISION_OF]->(p)
`, map[string]any{"revision": revisionUUID, "previous": previousRevisionUUID})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: link revision %s -> %s: %w", revisionUUID, previousRevisionUUID, err)
	}
	return nil
}

func (s *Neo4jStore) LinkCollectionDatasets(ctx context.Context, collectionUUID string, datasetUUIDs []string) error {
	return s.relinkMembership(ctx, collectionUUID, datasetUUIDs, "IN_COLLECTION")
}

func (s *Neo4jStore) LinkUploadDatasets(ctx context.Context, uploadUUID string, datasetUUIDs []string) error {
	return s.relinkMembership(ctx, uploadUUID, datasetUUIDs, "IN_UPLOAD")
}

// relinkMembership replaces every membership edge pointing at the container
// with edges from the given datasets, in one transaction.
func (s *Neo4jStore) relinkMembership(ctx context.Context, containerUUID string, datasetUUIDs []string, relType string) error {
	if !validPropertyName(relType) {
		return fmt.Errorf("graph: invalid relationship type %q", relType)
	}
	_, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (:Entity)-[r:%s]->(c:Entity {uuid: $uuid})
DELETE r
`, relType), map[string]any{"uuid": containerUUID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(datasetUUIDs) == 0 {
			return nil, nil
		}
		res, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (c:Entity {uuid: $uuid})
UNWIND $datasets AS dataset_uuid
MATCH (d:Entity {uuid: dataset_uuid})
MERGE (d)-[:%s]->(c)
`, relType), map[string]any{"uuid": containerUUID, "datasets": datasetUUIDs})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: relink %s for %s: %w", relType, containerUUID, err)
	}
	return nil
}

func (s *Neo4jStore) LinkPublicationCollection(ctx context.Context, publicationUUID, collectionUUID string) error {
	_, err := s.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MATCH (p:Entity {uuid: $publication})-[r:USES_DATA]->(:Entity)
DELETE r
`, map[string]any{"publication": publicationUUID}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		res, err := tx.Run(ctx, `
MATCH (p:Entity {uuid: $publication}), (c:Entity {uuid: $collection})
MERGE (p)-[:USES_DATA]->(c)
`, map[string]any{"publication": publicationUUID, "collection": collectionUUID})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: link publication %s to collection %s: %w", publicationUUID, collectionUUID, err)
	}
	return nil
}
