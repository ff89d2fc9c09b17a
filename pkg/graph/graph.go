// Package graph is the event store: users, tracks, artists, albums, plays and
// the taste-graph edges between them, backed by Neo4j. Every exported method
// is one atomic store operation; callers make no cross-call transaction
// assumptions.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

type Store struct {
	driver neo4j.DriverWithContext
	log    zerolog.Logger
}

func NewStore(ctx context.Context, uri, username, password string, log zerolog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to graph store: %w", err)
	}

	return &Store{
		driver: driver,
		log:    log.With().Str("component", "graph").Logger(),
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureConstraints creates the uniqueness constraints the ingestion pipeline
// relies on. The Play.dedup_key constraint is what makes concurrent creates
// of the same play resolve to exactly one stored node.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	constraints := []string{
		"CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
		"CREATE CONSTRAINT play_dedup_key IF NOT EXISTS FOR (p:Play) REQUIRE p.dedup_key IS UNIQUE",
		"CREATE CONSTRAINT track_spotify_id IF NOT EXISTS FOR (t:Track) REQUIRE t.spotify_id IS UNIQUE",
		"CREATE CONSTRAINT artist_spotify_id IF NOT EXISTS FOR (a:Artist) REQUIRE a.spotify_id IS UNIQUE",
		"CREATE CONSTRAINT album_spotify_id IF NOT EXISTS FOR (a:Album) REQUIRE a.spotify_id IS UNIQUE",
		"CREATE CONSTRAINT genre_name IF NOT EXISTS FOR (g:Genre) REQUIRE g.name IS UNIQUE",
	}

	for _, c := range constraints {
		if _, err := s.write(ctx, c, nil); err != nil {
			return fmt.Errorf("failed to ensure constraint: %w", err)
		}
	}
	return nil
}

func (s *Store) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

// Record value helpers. Neo4j returns nullable properties as nil and lists
// as []any, so every read goes through one of these.

func recString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recInt64(rec *neo4j.Record, key string) int64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

func recBool(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func recStrings(rec *neo4j.Record, key string) []string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func recTime(rec *neo4j.Record, key string) *time.Time {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}
