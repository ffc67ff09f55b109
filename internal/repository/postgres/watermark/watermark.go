package pg_watermark

import (
	"context"
	"database/sql"
	"time"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

type WatermarkRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *WatermarkRepo {
	return &WatermarkRepo{db: db}
}

func scan(row *sql.Row, userID string) (domain.Watermark, error) {
	w := domain.Watermark{UserID: userID}
	var lastChecked sql.NullTime

	if err := row.Scan(&w.SessionStart, &lastChecked); err != nil {
		return w, err
	}
	w.SessionStart = w.SessionStart.UTC()
	if lastChecked.Valid {
		t := lastChecked.Time.UTC()
		w.LastChecked = &t
	}
	return w, nil
}

// Ensure returns the user's watermark, opening a session at now when the user
// has none yet. An existing session is never moved.
func (r *WatermarkRepo) Ensure(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	query := `
		INSERT INTO notification_watermarks (user_id, session_start)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING session_start, last_checked
	`
	return scan(r.db.QueryRowContext(ctx, query, userID, now), userID)
}

func (r *WatermarkRepo) ResetSession(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	query := `
		INSERT INTO notification_watermarks (user_id, session_start, last_checked)
		VALUES ($1, $2, NULL)
		ON CONFLICT (user_id) DO UPDATE SET session_start = EXCLUDED.session_start, last_checked = NULL
		RETURNING session_start, last_checked
	`
	return scan(r.db.QueryRowContext(ctx, query, userID, now), userID)
}

// MarkChecked is last-write-wins across a user's concurrent tabs.
func (r *WatermarkRepo) MarkChecked(ctx context.Context, userID string, now time.Time) (domain.Watermark, error) {
	query := `
		INSERT INTO notification_watermarks (user_id, session_start, last_checked)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_checked = EXCLUDED.last_checked
		RETURNING session_start, last_checked
	`
	return scan(r.db.QueryRowContext(ctx, query, userID, now), userID)
}
