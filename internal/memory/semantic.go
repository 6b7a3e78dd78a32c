package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DgraphEntityGraph implements EntityGraph using Dgraph
type DgraphEntityGraph struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphEntityGraph connects to a Dgraph alpha and installs the schema
func NewDgraphEntityGraph(ctx context.Context, alphaAddr string) (*DgraphEntityGraph, error) {
	conn, err := grpc.NewClient(alphaAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	g := &DgraphEntityGraph{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	if err := g.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return g, nil
}

// initSchema sets up the Dgraph schema for mentioned entities
func (g *DgraphEntityGraph) initSchema(ctx context.Context) error {
	schema := `
		type MentionedEntity {
			entity.key
			entity.name
			entity.type
			entity.user
			entity.mentions
			entity.last_mentioned
			related
		}

		entity.key: string @index(exact) @upsert .
		entity.name: string @index(exact, fulltext, trigram) .
		entity.type: string @index(exact) .
		entity.user: string @index(exact) .
		entity.mentions: int .
		entity.last_mentioned: datetime .
		related: [uid] @reverse .
	`
	return g.client.Alter(ctx, &api.Operation{Schema: schema})
}

func entityKey(userID, entityType, name string) string {
	return userID + "|" + entityType + "|" + name
}

type dgraphEntity struct {
	UID           string    `json:"uid,omitempty"`
	Key           string    `json:"entity.key,omitempty"`
	Name          string    `json:"entity.name,omitempty"`
	Type          string    `json:"entity.type,omitempty"`
	User          string    `json:"entity.user,omitempty"`
	Mentions      int       `json:"entity.mentions"`
	LastMentioned time.Time `json:"entity.last_mentioned"`
	DType         []string  `json:"dgraph.type,omitempty"`
}

// UpsertEntity creates the entity or increments its mention count.
// The read-modify-write is retried when Dgraph aborts a conflicting transaction.
func (g *DgraphEntityGraph) UpsertEntity(ctx context.Context, e *GraphEntity) error {
	key := entityKey(e.UserID, e.Type, e.Name)
	seen := e.LastMentioned
	if seen.IsZero() {
		seen = time.Now()
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := g.upsertOnce(ctx, key, e, seen)
		if errors.Is(err, dgo.ErrAborted) {
			continue
		}
		return err
	}
	return fmt.Errorf("upsert entity %s: %w", e.Name, dgo.ErrAborted)
}

func (g *DgraphEntityGraph) upsertOnce(ctx context.Context, key string, e *GraphEntity, seen time.Time) error {
	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	existing, err := g.lookup(ctx, txn, key)
	if err != nil {
		return err
	}

	node := dgraphEntity{
		UID:           "_:entity",
		Key:           key,
		Name:          e.Name,
		Type:          e.Type,
		User:          e.UserID,
		Mentions:      1,
		LastMentioned: seen,
		DType:         []string{"MentionedEntity"},
	}
	if existing != nil {
		node.UID = existing.UID
		node.Mentions = existing.Mentions + 1
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data}); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

func (g *DgraphEntityGraph) lookup(ctx context.Context, txn *dgo.Txn, key string) (*dgraphEntity, error) {
	q := `query entity($key: string) {
		entity(func: eq(entity.key, $key)) {
			uid
			entity.mentions
		}
	}`

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$key": key})
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	var result struct {
		Entity []dgraphEntity `json:"entity"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Entity) == 0 {
		return nil, nil
	}
	return &result.Entity[0], nil
}

// Relate adds an edge between two entities, matched by name, with the relation as a facet
func (g *DgraphEntityGraph) Relate(ctx context.Context, fromName, toName, relType string) error {
	q := `query pair($from: string, $to: string) {
		from(func: eq(entity.name, $from), first: 1) { uid }
		to(func: eq(entity.name, $to), first: 1) { uid }
	}`

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$from": fromName, "$to": toName})
	if err != nil {
		return fmt.Errorf("relate lookup failed: %w", err)
	}

	var result struct {
		From []struct{ UID string `json:"uid"` } `json:"from"`
		To   []struct{ UID string `json:"uid"` } `json:"to"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.From) == 0 || len(result.To) == 0 {
		return fmt.Errorf("relate %s -> %s: %w", fromName, toName, ErrNotFound)
	}

	edge := map[string]interface{}{
		"uid": result.From[0].UID,
		"related": []map[string]interface{}{{
			"uid":          result.To[0].UID,
			"related|type": relType,
		}},
	}
	data, err := json.Marshal(edge)
	if err != nil {
		return err
	}

	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data}); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// FindEntities returns entities whose name contains all terms
func (g *DgraphEntityGraph) FindEntities(ctx context.Context, term string) ([]*GraphEntity, error) {
	q := `query find($term: string) {
		entities(func: alloftext(entity.name, $term), orderdesc: entity.mentions) {
			entity.name
			entity.type
			entity.user
			entity.mentions
			entity.last_mentioned
		}
	}`

	txn := g.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$term": term})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var result struct {
		Entities []dgraphEntity `json:"entities"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	entities := make([]*GraphEntity, len(result.Entities))
	for i, e := range result.Entities {
		entities[i] = &GraphEntity{
			Name:          e.Name,
			Type:          e.Type,
			UserID:        e.User,
			Mentions:      e.Mentions,
			LastMentioned: e.LastMentioned,
		}
	}
	return entities, nil
}

// Close closes the Dgraph connection
func (g *DgraphEntityGraph) Close() error {
	return g.conn.Close()
}
