package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GetProvenanceSubgraph extracts the upward provenance neighborhood of an
// entity: every Entity and Activity node reachable against the edge
// direction, bounded by depth (hops; depth <= 0 means unbounded), plus the
// relationships among them. The result feeds PROV document generation.
func (s *Neo4jStore) GetProvenanceSubgraph(ctx context.Context, uuid string, depth int) (*Subgraph, error) {
	maxLevel := int64(depth)
	if depth <= 0 {
		maxLevel = -1
	}
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {uuid: $uuid})
CALL apoc.path.subgraphAll(e, {
    maxLevel: $max_level,
    relationshipFilter: '<ACTIVITY_INPUT|<ACTIVITY_OUTPUT'
})
YIELD nodes, relationships
RETURN nodes, relationships
`, map[string]any{"uuid": uuid, "max_level": maxLevel})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		rawNodes, _ := record.Get("nodes")
		rawRels, _ := record.Get("relationships")
		return [2]any{rawNodes, rawRels}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: provenance subgraph of %s: %w", uuid, err)
	}

	pair := result.([2]any)
	return buildSubgraph(pair[0], pair[1])
}

func buildSubgraph(rawNodes, rawRels any) (*Subgraph, error) {
	nodeItems, _ := rawNodes.([]any)
	relItems, _ := rawRels.([]any)

	subgraph := &Subgraph{
		Nodes:         make([]SubgraphNode, 0, len(nodeItems)),
		Relationships: make([]Relationship, 0, len(relItems)),
	}
	uuidByElementID := make(map[string]string, len(nodeItems))

	for _, item := range nodeItems {
		node, ok := item.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("graph: unexpected node shape %T in subgraph", item)
		}
		subgraph.Nodes = append(subgraph.Nodes, SubgraphNode{
			Labels:     node.Labels,
			Properties: Entity(node.Props),
		})
		if id, ok := node.Props["uuid"].(string); ok {
			uuidByElementID[node.GetElementId()] = id
		}
	}

	for _, item := range relItems {
		rel, ok := item.(neo4j.Relationship)
		if !ok {
			return nil, fmt.Errorf("graph: unexpected relationship shape %T in subgraph", item)
		}
		source, sourceOK := uuidByElementID[rel.StartElementId]
		target, targetOK := uuidByElementID[rel.EndElementId]
		if !sourceOK || !targetOK {
			// endpoint outside the collected node set, skip
			continue
		}
		subgraph.Relationships = append(subgraph.Relationships, Relationship{
			SourceUUID: source,
			TargetUUID: target,
			Type:       rel.Type,
		})
	}
	return subgraph, nil
}
