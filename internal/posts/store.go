package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// Store reads scraped posts and writes back derived viral fields. Scraping
// itself lives outside this service; the ingester fills the posts table.
type Store interface {
	Get(ctx context.Context, id int64) (*models.Post, error)
	WindowForChannel(ctx context.Context, channelID int64, since time.Time) ([]models.Post, error)
	ListRecent(ctx context.Context, channelID int64, limit int) ([]models.Post, error)
	ViewsFloor(ctx context.Context, channelID int64, percentile float64, since time.Time) (float64, error)
	UpdateViralFields(ctx context.Context, id int64, m models.ViralMetrics, at time.Time) error
}

// ErrPostNotFound is returned when a post id does not exist.
var ErrPostNotFound = errors.New("posts: post not found")

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const postColumns = `
	id, channel_id, message_id, text, posted_at,
	views, forwards, reactions, replies,
	engagement_rate, zscore, median_multiplier, viral_score, is_viral,
	last_viral_calculation`

func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id = $1
	`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// WindowForChannel returns the channel's posts published since the given
// time, oldest first. This is the baseline calculation window.
func (s *SQLStore) WindowForChannel(ctx context.Context, channelID int64, since time.Time) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE channel_id = $1 AND posted_at >= $2
		ORDER BY posted_at ASC
	`, channelID, since)
	if err != nil {
		return nil, fmt.Errorf("load channel window: %w", err)
	}
	return collectPosts(rows)
}

func (s *SQLStore) ListRecent(ctx context.Context, channelID int64, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE channel_id = $1
		ORDER BY posted_at DESC
		LIMIT $2
	`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}
	return collectPosts(rows)
}

// ViewsFloor resolves the view count at the given percentile of the
// channel's window. An empty window yields 0, which disables the views gate.
func (s *SQLStore) ViewsFloor(ctx context.Context, channelID int64, percentile float64, since time.Time) (float64, error) {
	var floor sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT PERCENTILE_CONT($1) WITHIN GROUP (ORDER BY views)
		FROM posts
		WHERE channel_id = $2 AND posted_at >= $3
	`, percentile/100, channelID, since).Scan(&floor)
	if err != nil {
		return 0, fmt.Errorf("views floor: %w", err)
	}
	if !floor.Valid {
		return 0, nil
	}
	return floor.Float64, nil
}

// UpdateViralFields writes all derived fields plus the calculation timestamp
// in one UPDATE so the post's viral state is always internally consistent.
func (s *SQLStore) UpdateViralFields(ctx context.Context, id int64, m models.ViralMetrics, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET engagement_rate = $2,
			zscore = $3,
			median_multiplier = $4,
			viral_score = $5,
			is_viral = $6,
			last_viral_calculation = $7
		WHERE id = $1
	`, id, m.EngagementRate, m.ZScore, m.MedianMultiplier, m.ViralScore, m.IsViral, at)
	if err != nil {
		return fmt.Errorf("update viral fields: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update viral fields: %w", err)
	}
	if affected == 0 {
		return ErrPostNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (models.Post, error) {
	var post models.Post
	var lastCalc sql.NullTime
	if err := r.Scan(
		&post.ID,
		&post.ChannelID,
		&post.MessageID,
		&post.Text,
		&post.PostedAt,
		&post.Views,
		&post.Forwards,
		&post.Reactions,
		&post.Replies,
		&post.EngagementRate,
		&post.ZScore,
		&post.MedianMultiplier,
		&post.ViralScore,
		&post.IsViral,
		&lastCalc,
	); err != nil {
		return models.Post{}, err
	}
	if lastCalc.Valid {
		post.LastViralCalculation = &lastCalc.Time
	}
	return post, nil
}

func collectPosts(rows *sql.Rows) ([]models.Post, error) {
	defer rows.Close()

	var out []models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}
