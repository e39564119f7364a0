package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS moderation_config (
    id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    document JSONB NOT NULL,
    version BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    updated_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS moderation_config_history (
    version BIGINT PRIMARY KEY,
    document JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    updated_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS moderation_queue (
    id UUID PRIMARY KEY,
    workflow TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    safe_content TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    user_email TEXT NOT NULL DEFAULT '',
    channel_id TEXT NOT NULL DEFAULT '',
    group_id TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    device_type TEXT NOT NULL DEFAULT '',
    tier_flow JSONB NOT NULL,
    tier1_result JSONB,
    tier2_result JSONB,
    tier3_result JSONB,
    priority TEXT NOT NULL,
    overall_action TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL,
    reviewed_at TIMESTAMPTZ NULL,
    reviewed_by TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_moderation_queue_status_created ON moderation_queue (status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_moderation_queue_created ON moderation_queue (created_at);
CREATE INDEX IF NOT EXISTS idx_moderation_queue_content_hash ON moderation_queue (content_hash);
`

// queueListLimit caps a single queue listing.
const queueListLimit = 1000

const queueColumns = `id, workflow, content_type, content, safe_content, content_hash, user_id, user_email, channel_id, group_id, country, device_type, tier_flow, tier1_result, tier2_result, tier3_result, priority, overall_action, reason, status, created_at, reviewed_at, reviewed_by, notes`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Configure connection pooling for production use
	db.SetMaxOpenConns(maxOpenConns)       // Maximum number of open connections
	db.SetMaxIdleConns(maxIdleConns)       // Maximum number of idle connections
	db.SetConnMaxLifetime(connMaxLifetime) // Maximum lifetime of a connection
	db.SetConnMaxIdleTime(connMaxIdleTime) // Maximum idle time before closing connection

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// ensureSchema creates the required tables if they do not exist.
func (p *Postgres) ensureSchema() error {
	ctx := context.Background()
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadConfig returns the current moderation config or models.ErrNotFound
// when none has been saved yet.
func (p *Postgres) LoadConfig(ctx context.Context) (models.ModerationConfig, error) {
	var (
		doc       []byte
		cfg       models.ModerationConfig
		version   int64
		updatedAt time.Time
		updatedBy string
	)
	err := p.DB.QueryRowContext(ctx, `SELECT document, version, updated_at, updated_by FROM moderation_config WHERE id = 1`).
		Scan(&doc, &version, &updatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, models.ErrNotFound
	}
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.Version = version
	cfg.UpdatedAt = updatedAt
	cfg.UpdatedBy = updatedBy
	return cfg, nil
}

// SaveConfig replaces the current config and records it in the history
// table within one transaction.
func (p *Postgres) SaveConfig(ctx context.Context, cfg models.ModerationConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO moderation_config (id, document, version, updated_at, updated_by)
            VALUES (1, $1, $2, $3, $4)
            ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, version = EXCLUDED.version,
            updated_at = EXCLUDED.updated_at, updated_by = EXCLUDED.updated_by`,
		string(doc), cfg.Version, cfg.UpdatedAt, cfg.UpdatedBy); err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO moderation_config_history (version, document, updated_at, updated_by)
            VALUES ($1, $2, $3, $4) ON CONFLICT (version) DO NOTHING`,
		cfg.Version, string(doc), cfg.UpdatedAt, cfg.UpdatedBy); err != nil {
		return fmt.Errorf("insert config history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}
	return nil
}

// ConfigHistory returns up to limit previous config versions, newest first.
func (p *Postgres) ConfigHistory(ctx context.Context, limit int) ([]models.ModerationConfig, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT document, version, updated_at, updated_by FROM moderation_config_history ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query config history: %w", err)
	}
	defer rows.Close()

	var out []models.ModerationConfig
	for rows.Next() {
		var (
			doc       []byte
			cfg       models.ModerationConfig
			version   int64
			updatedAt time.Time
			updatedBy string
		)
		if err := rows.Scan(&doc, &version, &updatedAt, &updatedBy); err != nil {
			return nil, fmt.Errorf("scan config history: %w", err)
		}
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return nil, fmt.Errorf("decode config history: %w", err)
		}
		cfg.Version, cfg.UpdatedAt, cfg.UpdatedBy = version, updatedAt, updatedBy
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// InsertQueueItem stores a new review queue item.
func (p *Postgres) InsertQueueItem(ctx context.Context, it models.QueueItem) error {
	flow, err := json.Marshal(it.TierFlow)
	if err != nil {
		return fmt.Errorf("encode tier flow: %w", err)
	}
	t1, err := marshalResult(it.Tier1Result)
	if err != nil {
		return err
	}
	t2, err := marshalResult(it.Tier2Result)
	if err != nil {
		return err
	}
	t3, err := marshalResult(it.Tier3Result)
	if err != nil {
		return err
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO moderation_queue (`+queueColumns+`)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		it.ID, it.Workflow, it.ContentType, it.Content, it.SafeContent, it.ContentHash,
		it.UserID, it.UserEmail, it.ChannelID, it.GroupID, it.Country, it.DeviceType,
		string(flow), t1, t2, t3,
		string(it.Priority), string(it.OverallAction), it.Reason, string(it.Status),
		it.CreatedAt, nullTime(it.ReviewedAt), it.ReviewedBy, it.Notes)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// ListQueueItems returns items with the given status, newest first.
func (p *Postgres) ListQueueItems(ctx context.Context, status models.QueueStatus) ([]models.QueueItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == models.StatusAll {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+queueColumns+` FROM moderation_queue ORDER BY created_at DESC LIMIT $1`, queueListLimit)
	} else {
		rows, err = p.DB.QueryContext(ctx, `SELECT `+queueColumns+` FROM moderation_queue WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(status), queueListLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// GetQueueItem returns one item or models.ErrNotFound.
func (p *Postgres) GetQueueItem(ctx context.Context, id string) (models.QueueItem, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM moderation_queue WHERE id = $1`, id)
	it, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, models.ErrNotFound
	}
	return it, err
}

// ReviewQueueItem applies a review only if the item is still pending. The
// status predicate in the UPDATE is the compare-and-swap; when it matches no
// row the item is looked up again to tell a missing id from a lost race.
func (p *Postgres) ReviewQueueItem(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, at time.Time) (models.QueueItem, error) {
	row := p.DB.QueryRowContext(ctx, `UPDATE moderation_queue SET status = $2, reviewed_by = $3, notes = $4, reviewed_at = $5
            WHERE id = $1 AND status = 'pending' RETURNING `+queueColumns,
		id, string(status), reviewer, notes, at)
	it, err := scanQueueItem(row)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, err
	}

	var current string
	err = p.DB.QueryRowContext(ctx, `SELECT status FROM moderation_queue WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, models.ErrNotFound
	}
	if err != nil {
		return models.QueueItem{}, fmt.Errorf("lookup queue item: %w", err)
	}
	return models.QueueItem{}, models.ErrAlreadyReviewed
}

// QueueCounts returns the number of items per status.
func (p *Postgres) QueueCounts(ctx context.Context) (map[models.QueueStatus]int, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM moderation_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.QueueStatus]int, 3)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		counts[models.QueueStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return counts, nil
}

// CountQueueItemsSince counts items created at or after since.
func (p *Postgres) CountQueueItemsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM moderation_queue WHERE created_at >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue since: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (models.QueueItem, error) {
	var (
		it               models.QueueItem
		flow, t1, t2, t3 []byte
		priority, action string
		status           string
		reviewedAt       sql.NullTime
	)
	err := row.Scan(&it.ID, &it.Workflow, &it.ContentType, &it.Content, &it.SafeContent, &it.ContentHash,
		&it.UserID, &it.UserEmail, &it.ChannelID, &it.GroupID, &it.Country, &it.DeviceType,
		&flow, &t1, &t2, &t3,
		&priority, &action, &it.Reason, &status,
		&it.CreatedAt, &reviewedAt, &it.ReviewedBy, &it.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return it, err
		}
		return it, fmt.Errorf("scan queue item: %w", err)
	}
	it.Priority = models.Priority(priority)
	it.OverallAction = models.Action(action)
	it.Status = models.QueueStatus(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		it.ReviewedAt = &t
	}
	if len(flow) > 0 {
		if err := json.Unmarshal(flow, &it.TierFlow); err != nil {
			return it, fmt.Errorf("decode tier flow: %w", err)
		}
	}
	for _, r := range []struct {
		raw []byte
		dst **models.TierResult
	}{{t1, &it.Tier1Result}, {t2, &it.Tier2Result}, {t3, &it.Tier3Result}} {
		if len(r.raw) == 0 {
			continue
		}
		var res models.TierResult
		if err := json.Unmarshal(r.raw, &res); err != nil {
			return it, fmt.Errorf("decode tier result: %w", err)
		}
		*r.dst = &res
	}
	return it, nil
}

// marshalResult encodes an optional tier result as a nullable JSON string.
// lib/pq would send a []byte as bytea, which JSONB columns reject.
func marshalResult(r *models.TierResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode tier result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
