package baseline

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

var baselineCols = []string{
	"channel_id", "posts_analyzed",
	"mean", "median", "std_dev", "p75", "p95", "max",
	"status", "calculation_period_days", "min_posts_for_baseline",
	"last_calculated", "next_calculation",
}

func TestSQLStore_UpsertGetRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	calculated := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	b := models.ChannelBaseline{
		ChannelID:             7,
		PostsAnalyzed:         42,
		Mean:                  0.0151234,
		Median:                0.0123456,
		StdDev:                0.0087654,
		P75:                   0.0190001,
		P95:                   0.0280002,
		Max:                   0.0350003,
		Status:                models.BaselineReady,
		CalculationPeriodDays: 30,
		MinPostsForBaseline:   10,
		LastCalculated:        calculated,
		NextCalculation:       calculated.Add(24 * time.Hour),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO channel_baselines")).
		WithArgs(b.ChannelID, b.PostsAnalyzed,
			b.Mean, b.Median, b.StdDev, b.P75, b.P95, b.Max,
			b.Status, b.CalculationPeriodDays, b.MinPostsForBaseline,
			b.LastCalculated, b.NextCalculation).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM channel_baselines")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(baselineCols).AddRow(
			b.ChannelID, b.PostsAnalyzed,
			b.Mean, b.Median, b.StdDev, b.P75, b.P95, b.Max,
			string(b.Status), b.CalculationPeriodDays, b.MinPostsForBaseline,
			b.LastCalculated, b.NextCalculation,
		))

	store := NewSQLStore(db)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, b))

	loaded, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, b, *loaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM channel_baselines")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(baselineCols))

	store := NewSQLStore(db)
	_, err = store.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrBaselineNotFound)
}

func TestSQLStore_ListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE next_calculation <= $1")).
		WithArgs(now, 10).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id"}).AddRow(int64(3)).AddRow(int64(7)))

	store := NewSQLStore(db)
	due, err := store.ListDue(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, due)
}

func TestSQLStore_MarkOutdated(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE channel_baselines")).
		WithArgs(models.BaselineOutdated, models.BaselineReady, now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewSQLStore(db)
	n, err := store.MarkOutdated(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
