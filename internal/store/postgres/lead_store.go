// Package postgres stores deduplicated leads in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/dedupe"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "leads"

// Config controls the Postgres connection pool used for lead rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type beginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// LeadStore upserts leads keyed on (source, dedupe_key). It implements
// crawler.LeadSink.
type LeadStore struct {
	pool  beginCloser
	table string
	now   func() time.Time
}

// New connects a pool and returns a LeadStore.
func New(ctx context.Context, cfg Config) (*LeadStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sinks.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool beginCloser, table string) (*LeadStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &LeadStore{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *LeadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Name implements crawler.LeadSink.
func (s *LeadStore) Name() string { return "postgres" }

// StoreLeads writes every lead in one transaction. A lead seen again keeps
// its first_seen_at and takes the newest contact fields.
func (s *LeadStore) StoreLeads(ctx context.Context, runID string, leads []crawler.Lead) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("lead store is not configured")
	}
	if len(leads) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	dedupe_key,
	run_id,
	name,
	email,
	phone,
	website,
	address,
	profile_url,
	rating,
	review_count,
	source_context,
	raw_payload,
	first_seen_at,
	last_seen_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14
)
ON CONFLICT (source, dedupe_key) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	email = COALESCE(NULLIF(EXCLUDED.email, ''), %[1]s.email),
	phone = COALESCE(NULLIF(EXCLUDED.phone, ''), %[1]s.phone),
	website = COALESCE(NULLIF(EXCLUDED.website, ''), %[1]s.website),
	profile_url = COALESCE(NULLIF(EXCLUDED.profile_url, ''), %[1]s.profile_url),
	rating = COALESCE(EXCLUDED.rating, %[1]s.rating),
	review_count = COALESCE(EXCLUDED.review_count, %[1]s.review_count),
	raw_payload = EXCLUDED.raw_payload,
	last_seen_at = EXCLUDED.last_seen_at`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin lead upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	seenAt := s.now().UTC()
	for _, lead := range leads {
		if _, err := tx.Exec(ctx, query, args(runID, lead, seenAt)...); err != nil {
			return fmt.Errorf("upsert lead %q: %w", lead.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lead upsert: %w", err)
	}
	return nil
}

func args(runID string, lead crawler.Lead, seenAt time.Time) []any {
	var payload []byte
	if len(lead.RawPayload) > 0 {
		payload = lead.RawPayload
	}
	return []any{
		string(lead.Source),
		dedupe.KeyOf(lead).String(),
		runID,
		lead.Name,
		lead.Email,
		lead.Phone,
		lead.Website,
		lead.Address,
		lead.ProfileURL,
		lead.Rating,
		lead.ReviewCount,
		lead.SourceContext,
		payload,
		seenAt,
	}
}
