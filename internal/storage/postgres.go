// Package storage persists collision events and periodic statistics
// snapshots for post-mortem and dashboarding, entirely optional: a run
// with no Postgres configured works identically, just without history.
package storage

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies it with a ping.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping failed: %w", err)
	}
	log.Println("storage: connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql.
func (s *Store) InitSchema(ctx context.Context) error {
	schemaBytes, err := os.ReadFile("internal/storage/schema.sql")
	if err != nil {
		return fmt.Errorf("storage: read schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("storage: execute schema: %w", err)
	}
	log.Println("storage: schema initialized")
	return nil
}

// CollisionEvent is one cross-herd collision the resolver saw, whether or
// not it actually recovered the key (spec §4.E: "wrong collision" is a
// normal, loggable outcome, not an error).
type CollisionEvent struct {
	TameKIdx  uint64
	WildKIdx  uint64
	X         [4]uint64
	Recovered bool
	Key       *big.Int // nil unless Recovered
}

// SaveCollisionEvent records one collision, recovered or not.
func (s *Store) SaveCollisionEvent(ctx context.Context, ev CollisionEvent) error {
	var keyHex *string
	if ev.Recovered && ev.Key != nil {
		h := ev.Key.Text(16)
		keyHex = &h
	}
	const sql = `
		INSERT INTO collision_events (tame_kidx, wild_kidx, x_hi, x_lo, recovered, found_key_hex)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.pool.Exec(ctx, sql, ev.TameKIdx, ev.WildKIdx,
		int64(ev.X[0]), int64(ev.X[3]), ev.Recovered, keyHex)
	if err != nil {
		return fmt.Errorf("storage: insert collision_events: %w", err)
	}
	return nil
}

// StatsSnapshot is one periodic sample of the DP store's counters, taken
// by internal/server's stats loop.
type StatsSnapshot struct {
	AddOK               uint64
	TrueDuplicates      uint64
	SameHerdCollisions  uint64
	CrossHerdCollisions uint64
	TameEntries         uint64
	WildEntries         uint64
	ConnectedWorkers    int
}

// SaveStatsSnapshot appends one row; the table is append-only so a
// dashboard can chart progress over time.
func (s *Store) SaveStatsSnapshot(ctx context.Context, snap StatsSnapshot) error {
	const sql = `
		INSERT INTO stats_snapshots
			(add_ok, true_duplicates, same_herd_collisions, cross_herd_collisions, tame_entries, wild_entries, connected_workers)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.pool.Exec(ctx, sql,
		int64(snap.AddOK), int64(snap.TrueDuplicates), int64(snap.SameHerdCollisions),
		int64(snap.CrossHerdCollisions), int64(snap.TameEntries), int64(snap.WildEntries),
		snap.ConnectedWorkers)
	if err != nil {
		return fmt.Errorf("storage: insert stats_snapshots: %w", err)
	}
	return nil
}

// RecentSnapshots returns the most recent n stats rows, oldest first, for
// a dashboard's progress chart.
func (s *Store) RecentSnapshots(ctx context.Context, n int) ([]StatsSnapshot, error) {
	if n <= 0 || n > 10000 {
		n = 500
	}
	const sql = `
		SELECT add_ok, true_duplicates, same_herd_collisions, cross_herd_collisions, tame_entries, wild_entries, connected_workers
		FROM stats_snapshots
		ORDER BY id DESC
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, sql, n)
	if err != nil {
		return nil, fmt.Errorf("storage: query stats_snapshots: %w", err)
	}
	defer rows.Close()

	var out []StatsSnapshot
	for rows.Next() {
		var snap StatsSnapshot
		if err := rows.Scan(&snap.AddOK, &snap.TrueDuplicates, &snap.SameHerdCollisions,
			&snap.CrossHerdCollisions, &snap.TameEntries, &snap.WildEntries, &snap.ConnectedWorkers); err != nil {
			return nil, fmt.Errorf("storage: scan stats_snapshots row: %w", err)
		}
		out = append(out, snap)
	}
	// rows came back newest-first; flip so callers can chart left-to-right.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Pool exposes the underlying pgx pool for callers that need it directly.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
