package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/modserve/internal/models"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &Postgres{DB: sqlDB}, mock
}

var queueCols = []string{"id", "workflow", "content_type", "content", "safe_content", "content_hash", "user_id", "user_email", "channel_id", "group_id", "country", "device_type", "tier_flow", "tier1_result", "tier2_result", "tier3_result", "priority", "overall_action", "reason", "status", "created_at", "reviewed_at", "reviewed_by", "notes"}

func queueRow(id, status string, created time.Time, reviewedAt any) []driver.Value {
	flow, _ := json.Marshal([]models.TierResult{{Tier: models.Tier1, Action: models.ActionFlag}})
	t1, _ := json.Marshal(models.TierResult{Tier: models.Tier1, Action: models.ActionFlag, Passed: models.Bool(false)})
	return []driver.Value{id, "community_chat", "message", "hello", "hello", "abc", "u1", "u1@example.com", "", "", "US", "mobile", flow, t1, nil, nil, "medium", "flag", models.ReasonKeywordMatch, status, created, reviewedAt, "", ""}
}

func rowsOf(vals ...[]driver.Value) *sqlmock.Rows {
	rows := sqlmock.NewRows(queueCols)
	for _, v := range vals {
		rows.AddRow(v...)
	}
	return rows
}

func TestPostgres_GetQueueItem(t *testing.T) {
	pg, mock := newMockPostgres(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM moderation_queue WHERE id = \$1`).
		WithArgs("q1").
		WillReturnRows(rowsOf(queueRow("q1", "pending", created, nil)))

	it, err := pg.GetQueueItem(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", it.ID)
	assert.Equal(t, models.StatusPending, it.Status)
	assert.Equal(t, models.PriorityMedium, it.Priority)
	assert.Nil(t, it.ReviewedAt)
	require.NotNil(t, it.Tier1Result)
	assert.False(t, *it.Tier1Result.Passed)
	assert.Nil(t, it.Tier2Result)
	assert.Len(t, it.TierFlow, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetQueueItemNotFound(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT .* FROM moderation_queue WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := pg.GetQueueItem(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgres_ReviewQueueItem(t *testing.T) {
	pg, mock := newMockPostgres(t)
	at := time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC)
	created := at.Add(-time.Hour)
	mock.ExpectQuery(`UPDATE moderation_queue SET status = \$2, reviewed_by = \$3, notes = \$4, reviewed_at = \$5\s+WHERE id = \$1 AND status = 'pending' RETURNING`).
		WithArgs("q1", "approved", "admin@example.com", "ok", at).
		WillReturnRows(rowsOf(queueRow("q1", "approved", created, at)))

	it, err := pg.ReviewQueueItem(context.Background(), "q1", models.StatusApproved, "admin@example.com", "ok", at)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, it.Status)
	require.NotNil(t, it.ReviewedAt)
	assert.True(t, it.ReviewedAt.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReviewQueueItemConflicts(t *testing.T) {
	pg, mock := newMockPostgres(t)
	at := time.Now()

	mock.ExpectQuery(`UPDATE moderation_queue SET status`).
		WillReturnRows(sqlmock.NewRows(queueCols))
	mock.ExpectQuery(`SELECT status FROM moderation_queue WHERE id = \$1`).
		WithArgs("q1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("approved"))

	_, err := pg.ReviewQueueItem(context.Background(), "q1", models.StatusRejected, "a", "", at)
	assert.ErrorIs(t, err, models.ErrAlreadyReviewed)

	mock.ExpectQuery(`UPDATE moderation_queue SET status`).
		WillReturnRows(sqlmock.NewRows(queueCols))
	mock.ExpectQuery(`SELECT status FROM moderation_queue WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err = pg.ReviewQueueItem(context.Background(), "nope", models.StatusRejected, "a", "", at)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListQueueItemsFiltersStatus(t *testing.T) {
	pg, mock := newMockPostgres(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM moderation_queue WHERE status = \$1 ORDER BY created_at DESC`).
		WithArgs("pending", queueListLimit).
		WillReturnRows(rowsOf(queueRow("b", "pending", now, nil), queueRow("a", "pending", now.Add(-time.Minute), nil)))

	items, err := pg.ListQueueItems(context.Background(), models.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)

	mock.ExpectQuery(`FROM moderation_queue ORDER BY created_at DESC`).
		WithArgs(queueListLimit).
		WillReturnRows(rowsOf())
	items, err = pg.ListQueueItems(context.Background(), models.StatusAll)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertQueueItem(t *testing.T) {
	pg, mock := newMockPostgres(t)
	it := models.QueueItem{
		ID:          "q1",
		Workflow:    "groups",
		Content:     "hi",
		TierFlow:    []models.TierResult{},
		Tier1Result: &models.TierResult{Tier: models.Tier1},
		Priority:    models.PriorityLow,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	mock.ExpectExec(`INSERT INTO moderation_queue`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, pg.InsertQueueItem(context.Background(), it))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueueCounts(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM moderation_queue GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("pending", 3).AddRow("approved", 1))

	counts, err := pg.QueueCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusApproved])
	assert.Equal(t, 0, counts[models.StatusRejected])
}

func TestPostgres_SaveAndLoadConfig(t *testing.T) {
	pg, mock := newMockPostgres(t)
	cfg := models.DefaultConfig()
	cfg.Version = 3
	cfg.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg.UpdatedBy = "admin@example.com"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO moderation_config`).
		WithArgs(sqlmock.AnyArg(), int64(3), cfg.UpdatedAt, "admin@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO moderation_config_history`).
		WithArgs(int64(3), sqlmock.AnyArg(), cfg.UpdatedAt, "admin@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, pg.SaveConfig(context.Background(), cfg))

	doc, _ := json.Marshal(cfg)
	mock.ExpectQuery(`SELECT document, version, updated_at, updated_by FROM moderation_config WHERE id = 1`).
		WillReturnRows(sqlmock.NewRows([]string{"document", "version", "updated_at", "updated_by"}).
			AddRow(doc, 3, cfg.UpdatedAt, "admin@example.com"))
	got, err := pg.LoadConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, cfg.Tier3.Thresholds, got.Tier3.Thresholds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadConfigMissing(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery(`FROM moderation_config WHERE id = 1`).WillReturnError(sql.ErrNoRows)

	_, err := pg.LoadConfig(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
