package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// LogStore is the append-only debug log backing sandbox sessions. Entries
// survive session restarts and are only removed with the session itself.
type LogStore interface {
	Append(ctx context.Context, entry models.DebugLogEntry) error
	List(ctx context.Context, sessionID string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error)
	DeleteForSession(ctx context.Context, sessionID string) error
}

type SQLLogStore struct {
	db *sql.DB
}

func NewSQLLogStore(db *sql.DB) *SQLLogStore {
	return &SQLLogStore{db: db}
}

func (s *SQLLogStore) Append(ctx context.Context, entry models.DebugLogEntry) error {
	var payload any
	if len(entry.Payload) > 0 {
		payload = []byte(entry.Payload)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_debug_log (session_id, step, type, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.SessionID, string(entry.Step), entry.Type, entry.Message, payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append debug log: %w", err)
	}
	return nil
}

// List returns the session's entries in append order, narrowed by the
// optional type and step filters.
func (s *SQLLogStore) List(ctx context.Context, sessionID string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, session_id, step, type, message, payload, created_at
		FROM sandbox_debug_log
		WHERE session_id = $1`)
	args := []any{sessionID}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			args = append(args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		fmt.Fprintf(&sb, " AND type IN (%s)", strings.Join(placeholders, ", "))
	}
	if filter.Step != "" {
		args = append(args, string(filter.Step))
		fmt.Fprintf(&sb, " AND step = $%d", len(args))
	}
	sb.WriteString(" ORDER BY id ASC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list debug log: %w", err)
	}
	defer rows.Close()

	var entries []models.DebugLogEntry
	for rows.Next() {
		var e models.DebugLogEntry
		var step sql.NullString
		var payload sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.SessionID, &step, &e.Type, &e.Message, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan debug log entry: %w", err)
		}
		e.Step = models.Stage(step.String)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate debug log: %w", err)
	}
	return entries, nil
}

func (s *SQLLogStore) DeleteForSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sandbox_debug_log WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete debug log: %w", err)
	}
	return nil
}
