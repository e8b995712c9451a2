package posts

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

var postCols = []string{
	"id", "channel_id", "message_id", "text", "posted_at",
	"views", "forwards", "reactions", "replies",
	"engagement_rate", "zscore", "median_multiplier", "viral_score", "is_viral",
	"last_viral_calculation",
}

func TestGetPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	postedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(postCols).AddRow(
			int64(42), int64(7), int64(1001), "hello", postedAt,
			int64(8000), int64(80), int64(200), int64(40),
			0.0135, -0.19, 1.13, 0.091, false,
			nil,
		))

	store := NewSQLStore(db)
	post, err := store.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), post.ID)
	assert.Equal(t, int64(7), post.ChannelID)
	assert.Equal(t, int64(8000), post.Views)
	assert.Nil(t, post.LastViralCalculation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPost_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM posts")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(postCols))

	store := NewSQLStore(db)
	_, err = store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestWindowForChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	calc := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE channel_id = $1 AND posted_at >= $2")).
		WithArgs(int64(7), since).
		WillReturnRows(sqlmock.NewRows(postCols).
			AddRow(int64(1), int64(7), int64(10), "a", since.Add(24*time.Hour),
				int64(100), int64(1), int64(2), int64(0),
				0.03, 0.0, 1.0, 0.1, false, calc).
			AddRow(int64(2), int64(7), int64(11), "b", since.Add(48*time.Hour),
				int64(200), int64(2), int64(4), int64(1),
				0.035, 0.0, 1.0, 0.1, false, nil))

	store := NewSQLStore(db)
	window, err := store.WindowForChannel(context.Background(), 7, since)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(1), window[0].ID)
	require.NotNil(t, window[0].LastViralCalculation)
	assert.True(t, window[0].LastViralCalculation.Equal(calc))
	assert.Nil(t, window[1].LastViralCalculation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewsFloor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("PERCENTILE_CONT($1)")).
		WithArgs(0.25, int64(7), since).
		WillReturnRows(sqlmock.NewRows([]string{"percentile_cont"}).AddRow(1500.0))

	store := NewSQLStore(db)
	floor, err := store.ViewsFloor(context.Background(), 7, 25, since)
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, floor, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViewsFloor_EmptyWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("PERCENTILE_CONT($1)")).
		WithArgs(0.25, int64(7), since).
		WillReturnRows(sqlmock.NewRows([]string{"percentile_cont"}).AddRow(nil))

	store := NewSQLStore(db)
	floor, err := store.ViewsFloor(context.Background(), 7, 25, since)
	require.NoError(t, err)
	assert.Zero(t, floor)
}

func TestUpdateViralFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	metrics := models.ViralMetrics{
		EngagementRate:   0.0135,
		ZScore:           -0.1875,
		MedianMultiplier: 1.125,
		ViralScore:       0.091,
		IsViral:          false,
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE posts")).
		WithArgs(int64(42), metrics.EngagementRate, metrics.ZScore,
			metrics.MedianMultiplier, metrics.ViralScore, metrics.IsViral, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewSQLStore(db)
	require.NoError(t, store.UpdateViralFields(context.Background(), 42, metrics, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateViralFields_MissingPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE posts")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLStore(db)
	err = store.UpdateViralFields(context.Background(), 99, models.ViralMetrics{}, time.Now())
	assert.ErrorIs(t, err, ErrPostNotFound)
}
