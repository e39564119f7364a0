package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/models"
)

// AnalyticsService records the audit trail of production decisions.
// Implementations should return ErrUnavailable when the underlying storage
// is not configured.
type AnalyticsService interface {
	RecordDecision(ctx context.Context, sub models.Submission, d models.Decision) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

// EventRecord mirrors a row in the moderation_events table.
type EventRecord struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventID     string            `json:"event_id"`
	Workflow    string            `json:"workflow"`
	ContentType string            `json:"content_type"`
	Action      string            `json:"action"`
	Reason      string            `json:"reason"`
	Priority    string            `json:"priority"`
	Allowed     bool              `json:"allowed"`
	QueueItemID string            `json:"queue_item_id"`
	UserID      string            `json:"user_id"`
	ChannelID   string            `json:"channel_id"`
	GroupID     string            `json:"group_id"`
	Country     *string           `json:"country"`
	DeviceType  *string           `json:"device_type"`
	ContentHash string            `json:"content_hash"`
	Degraded    bool              `json:"degraded"`
	TierActions map[string]string `json:"tier_actions,omitempty"`
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS moderation_events (
       timestamp     DateTime,
       event_id      String,
       workflow      String,
       content_type  String,
       action        String,
       reason        String,
       priority      String,
       allowed       UInt8,
       queue_item_id String,
       user_id       String,
       channel_id    String,
       group_id      String,
       country       Nullable(String),
       device_type   Nullable(String),
       content_hash  String,
       degraded      UInt8,
       tier_actions  Map(String, String)
   ) ENGINE=MergeTree() ORDER BY (workflow, action, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createEventsTable); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

const insertEvent = `INSERT INTO moderation_events (timestamp, event_id, workflow, content_type, action, reason, priority, allowed, queue_item_id, user_id, channel_id, group_id, country, device_type, content_hash, degraded, tier_actions) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordDecision inserts one audit row. Content itself is never stored,
// only its fingerprint.
func (a *Analytics) RecordDecision(ctx context.Context, sub models.Submission, d models.Decision) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}

	tierActions := make(map[string]string, len(d.TierFlow))
	var degraded bool
	for _, r := range d.TierFlow {
		tierActions[string(r.Tier)] = string(r.Action)
		degraded = degraded || r.Degraded
	}

	if _, err := a.DB.ExecContext(ctx, insertEvent,
		time.Now().UTC(),
		uuid.NewString(),
		sub.Workflow,
		sub.ContentType,
		string(d.Action),
		d.Reason,
		string(d.Priority),
		boolToUInt8(d.Allowed),
		d.QueueItemID,
		sub.UserID,
		sub.ChannelID,
		sub.GroupID,
		nullString(sub.Country),
		nullString(sub.DeviceType),
		textutil.Fingerprint(sub.Text),
		boolToUInt8(degraded),
		tierActions,
	); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("action", string(d.Action)))
		return fmt.Errorf("insert decision event: %w", err)
	}
	return nil
}

// EventFilter narrows QueryEvents. Zero fields do not filter.
type EventFilter struct {
	Workflow string
	Action   string
	UserID   string
	Since    time.Time
	Limit    int
}

// QueryEvents returns matching events, newest first.
func (a *Analytics) QueryEvents(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	var (
		where []string
		args  []any
	)
	if f.Workflow != "" {
		where = append(where, "workflow = ?")
		args = append(args, f.Workflow)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT timestamp, event_id, workflow, content_type, action, reason, priority, allowed, queue_item_id, user_id, channel_id, group_id, country, device_type, content_hash, degraded FROM moderation_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := a.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var (
			ev                EventRecord
			allowed, degraded uint8
		)
		if err := rows.Scan(&ev.Timestamp, &ev.EventID, &ev.Workflow, &ev.ContentType, &ev.Action, &ev.Reason, &ev.Priority, &allowed, &ev.QueueItemID, &ev.UserID, &ev.ChannelID, &ev.GroupID, &ev.Country, &ev.DeviceType, &ev.ContentHash, &degraded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Allowed = allowed == 1
		ev.Degraded = degraded == 1
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// ActionCounts returns the number of decisions per action since the given
// time.
func (a *Analytics) ActionCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT action, count() FROM moderation_events WHERE timestamp >= ? GROUP BY action`, since)
	if err != nil {
		return nil, fmt.Errorf("query action counts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			action string
			n      uint64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		out[action] = int64(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
