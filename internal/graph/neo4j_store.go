package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/platform/neo4jdb"
)

// Neo4jStore implements Store against a Neo4j database. Every call opens its
// own session and runs under the client's per-call timeout.
type Neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, log *logger.Logger) (*Neo4jStore, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}
	return &Neo4jStore{client: client, log: log.With("component", "GraphStore")}, nil
}

func (s *Neo4jStore) read(ctx context.Context, work func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	ctx, cancel := s.client.WithCallTimeout(ctx)
	defer cancel()

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	return session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(ctx, tx)
	})
}

func (s *Neo4jStore) write(ctx context.Context, work func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	ctx, cancel := s.client.WithCallTimeout(ctx)
	defer cancel()

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	return session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(ctx, tx)
	})
}

// readEntities runs a query whose single return value is a list of nodes
// (or of scalar property values when opts.Property was applied) aliased as
// the given name.
func (s *Neo4jStore) readEntities(ctx context.Context, query string, params map[string]any, alias string) ([]Entity, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get(alias)
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return collectEntities(result)
}

// readValues is readEntities for scalar collections (uuid lists etc).
func (s *Neo4jStore) readValues(ctx context.Context, query string, params map[string]any, alias string) ([]string, error) {
	result, err := s.read(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		raw, _ := record.Get(alias)
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	items, ok := result.([]any)
	if !ok {
		return nil, nil
	}
	values := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok && str != "" {
			values = append(values, str)
		}
	}
	return values, nil
}

func collectEntities(result any) ([]Entity, error) {
	items, ok := result.([]any)
	if !ok {
		if result == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("graph: unexpected result shape %T", result)
	}
	entities := make([]Entity, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case neo4j.Node:
			entities = append(entities, Entity(v.Props))
		case map[string]any:
			entities = append(entities, Entity(v))
		case string:
			// property-projected traversal
			entities = append(entities, Entity{"value": v})
		default:
			return nil, fmt.Errorf("graph: unexpected node shape %T", item)
		}
	}
	return entities, nil
}

func entityFromRecordValue(raw any) (Entity, bool) {
	switch v := raw.(type) {
	case neo4j.Node:
		return Entity(v.Props), true
	case map[string]any:
		return Entity(v), true
	}
	return nil, false
}

// projection returns the Cypher return expression for a node variable under
// the given options. Property names are interpolated into the query text, so
// they are restricted to identifier characters.
func projection(nodeVar string, opts LineageOptions) (string, error) {
	if opts.Property == "" {
		return nodeVar, nil
	}
	if !validPropertyName(opts.Property) {
		return "", fmt.Errorf("graph: invalid property filter %q", opts.Property)
	}
	return fmt.Sprintf("%s {.%s}", nodeVar, opts.Property), nil
}

func validPropertyName(name string) bool {
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return name != ""
}
