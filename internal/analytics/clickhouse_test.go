package analytics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/models"
)

// passthrough lets map columns reach the mock unchanged, as the ClickHouse
// driver accepts them natively.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

func newMockAnalytics(t *testing.T) (*Analytics, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &Analytics{DB: sqlDB}, mock
}

func TestRecordDecision(t *testing.T) {
	a, mock := newMockAnalytics(t)
	sub := models.Submission{
		Text:        "hello there",
		ContentType: "message",
		Workflow:    models.WorkflowCommunityChat,
		UserID:      "u1",
		ChannelID:   "c1",
		Country:     "DE",
	}
	d := models.Decision{
		Allowed:     true,
		Action:      models.ActionFlag,
		Reason:      models.ReasonKeywordMatch,
		Priority:    models.PriorityMedium,
		QueueItemID: "q1",
		TierFlow: []models.TierResult{
			{Tier: models.Tier1, Action: models.ActionFlag},
			{Tier: models.Tier2, Action: models.ActionAllow, Degraded: true},
		},
	}

	mock.ExpectExec(`INSERT INTO moderation_events`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(),
			"community_chat", "message", "flag", models.ReasonKeywordMatch, "medium", uint8(1), "q1",
			"u1", "c1", "",
			sql.NullString{String: "DE", Valid: true}, sql.NullString{},
			textutil.Fingerprint("hello there"), uint8(1),
			map[string]string{"tier1": "flag", "tier2": "allow"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, a.RecordDecision(context.Background(), sub, d))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDecisionInsertError(t *testing.T) {
	a, mock := newMockAnalytics(t)
	mock.ExpectExec(`INSERT INTO moderation_events`).WillReturnError(errors.New("ch down"))

	err := a.RecordDecision(context.Background(), models.Submission{}, models.Decision{Action: models.ActionAllow})
	assert.ErrorContains(t, err, "ch down")
}

func TestUnavailableWithoutDB(t *testing.T) {
	var a *Analytics
	assert.ErrorIs(t, a.RecordDecision(context.Background(), models.Submission{}, models.Decision{}), ErrUnavailable)
	_, err := (&Analytics{}).QueryEvents(context.Background(), EventFilter{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQueryEventsBuildsFilter(t *testing.T) {
	a, mock := newMockAnalytics(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"timestamp", "event_id", "workflow", "content_type", "action", "reason", "priority", "allowed", "queue_item_id", "user_id", "channel_id", "group_id", "country", "device_type", "content_hash", "degraded"}

	mock.ExpectQuery(`FROM moderation_events WHERE workflow = \? AND action = \? AND timestamp >= \? ORDER BY timestamp DESC LIMIT 5`).
		WithArgs("groups", "block", since).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(since.Add(time.Hour), "e1", "groups", "post", "block", models.ReasonMaliciousLink, "", int64(0), "", "u2", "", "g1", nil, "desktop", "ff", int64(1)))

	events, err := a.QueryEvents(context.Background(), EventFilter{Workflow: "groups", Action: "block", Since: since, Limit: 5})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].EventID)
	assert.False(t, events[0].Allowed)
	assert.True(t, events[0].Degraded)
	assert.Nil(t, events[0].Country)
	require.NotNil(t, events[0].DeviceType)
	assert.Equal(t, "desktop", *events[0].DeviceType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionCounts(t *testing.T) {
	a, mock := newMockAnalytics(t)
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT action, count\(\) FROM moderation_events`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("allow", int64(40)).
			AddRow("block", int64(3)))

	counts, err := a.ActionCounts(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"allow": 40, "block": 3}, counts)
}

func TestMockAnalyticsRecords(t *testing.T) {
	m := NewMockAnalytics()
	require.NoError(t, m.RecordDecision(context.Background(), models.Submission{}, models.Decision{Action: models.ActionBlock}))
	require.Len(t, m.Recorded(), 1)
	assert.Equal(t, models.ActionBlock, m.Recorded()[0].Action)
}
