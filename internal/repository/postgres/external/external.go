package pg_external

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

const columns = "id, client_id, email, name, review_status, review_updated_at, created_at"

type ExternalRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *ExternalRepo {
	return &ExternalRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (domain.ExternalReviewer, error) {
	var (
		er        domain.ExternalReviewer
		status    sql.NullString
		updatedAt sql.NullTime
	)
	if err := s.Scan(&er.ID, &er.ClientID, &er.Email, &er.Name, &status, &updatedAt, &er.CreatedAt); err != nil {
		return er, err
	}

	var raw *string
	if status.Valid {
		raw = &status.String
	}
	er.ReviewStatus = domain.ParseReviewStatus(raw)
	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		er.ReviewUpdatedAt = &t
	}
	er.CreatedAt = er.CreatedAt.UTC()
	return er, nil
}

func (r *ExternalRepo) list(ctx context.Context, query string, args ...any) ([]domain.ExternalReviewer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ExternalReviewer, 0)
	for rows.Next() {
		er, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning external reviewer row: %w", err)
		}
		out = append(out, er)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in external reviewer query: %w", rows.Err())
	}
	return out, nil
}

func (r *ExternalRepo) GetExternalById(ctx context.Context, id string) (*domain.ExternalReviewer, error) {
	er, err := scan(r.db.QueryRowContext(ctx, "SELECT "+columns+" FROM external_reviewers WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReviewerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &er, nil
}

func (r *ExternalRepo) ListExternalByIds(ctx context.Context, ids []string) ([]domain.ExternalReviewer, error) {
	return r.list(ctx, "SELECT "+columns+" FROM external_reviewers WHERE id = ANY($1)", pq.Array(ids))
}

// ListExternalByEmail matches emails case-insensitively. An empty clientID
// searches every client.
func (r *ExternalRepo) ListExternalByEmail(ctx context.Context, clientID, email string) ([]domain.ExternalReviewer, error) {
	if clientID == "" {
		return r.list(ctx,
			"SELECT "+columns+" FROM external_reviewers WHERE lower(email) = lower($1) ORDER BY created_at, id",
			email,
		)
	}
	return r.list(ctx,
		"SELECT "+columns+" FROM external_reviewers WHERE client_id = $1 AND lower(email) = lower($2) ORDER BY created_at, id",
		clientID, email,
	)
}

// CreateExternal registers er unless the client already has a reviewer with
// the same email, and returns the stored row either way.
func (r *ExternalRepo) CreateExternal(ctx context.Context, er domain.ExternalReviewer) (domain.ExternalReviewer, error) {
	query := `
		INSERT INTO external_reviewers (id, client_id, email, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, lower(email)) DO UPDATE SET client_id = EXCLUDED.client_id
		RETURNING ` + columns

	stored, err := scan(r.db.QueryRowContext(ctx, query, er.ID, er.ClientID, er.Email, er.Name, er.CreatedAt))
	if err != nil {
		return stored, fmt.Errorf("error inserting external reviewer %s: %w", er.Email, err)
	}
	return stored, nil
}
