package pg_nomination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

const recordColumns = `
	n.id, n.participant_assessment_id, n.nominated_by_id, n.is_external,
	n.reviewer_id, n.external_reviewer_id, n.request_status, n.review_status,
	n.review_updated_at, n.created_at, n.updated_at, n.responded_at, n.review_submitted_at`

const externalColumns = `
	er.id, er.client_id, er.email, er.name, er.review_status, er.review_updated_at, er.created_at`

// joinedFrom resolves the external reviewer of every external nomination in
// the same statement.
const joinedFrom = `
	FROM nominations n
	LEFT JOIN external_reviewers er ON n.is_external AND er.id = n.external_reviewer_id`

const clientScope = `
	JOIN participant_assessments pa ON pa.id = n.participant_assessment_id
	JOIN assessments a ON a.id = pa.assessment_id
	JOIN cohorts c ON c.id = a.cohort_id`

// Ordering uses the C collation so ties on timestamps break the same way as
// Go string comparison.
const (
	orderChronological = ` ORDER BY n.created_at ASC, n.id COLLATE "C" ASC`
	orderRecentFirst   = ` ORDER BY n.created_at DESC, n.id COLLATE "C" DESC`
	orderReviewRecent  = ` ORDER BY review_at DESC, n.id COLLATE "C" DESC`
)

type NominationRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *NominationRepo {
	return &NominationRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, extra ...any) (domain.NominationRecord, error) {
	var (
		rec               domain.NominationRecord
		reviewerID        sql.NullString
		externalID        sql.NullString
		reviewStatus      sql.NullString
		reviewUpdatedAt   sql.NullTime
		respondedAt       sql.NullTime
		reviewSubmittedAt sql.NullTime
		status            string
	)

	dest := []any{
		&rec.ID, &rec.ParticipantAssessmentID, &rec.NominatedByID, &rec.IsExternal,
		&reviewerID, &externalID, &status, &reviewStatus,
		&reviewUpdatedAt, &rec.CreatedAt, &rec.UpdatedAt, &respondedAt, &reviewSubmittedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return rec, err
	}

	rec.RequestStatus = domain.RequestStatus(status)
	rec.ReviewerID = nullString(reviewerID)
	rec.ExternalReviewerID = nullString(externalID)
	rec.ReviewStatus = nullString(reviewStatus)
	rec.ReviewUpdatedAt = nullTime(reviewUpdatedAt)
	rec.RespondedAt = nullTime(respondedAt)
	rec.ReviewSubmittedAt = nullTime(reviewSubmittedAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	return rec, nil
}

type externalCols struct {
	id, clientID, email, name, status sql.NullString
	updatedAt, createdAt              sql.NullTime
}

func (e *externalCols) dest() []any {
	return []any{&e.id, &e.clientID, &e.email, &e.name, &e.status, &e.updatedAt, &e.createdAt}
}

func (e *externalCols) reviewer() *domain.ExternalReviewer {
	if !e.id.Valid {
		return nil
	}
	return &domain.ExternalReviewer{
		ID:              e.id.String,
		ClientID:        e.clientID.String,
		Email:           e.email.String,
		Name:            e.name.String,
		ReviewStatus:    domain.ParseReviewStatus(nullString(e.status)),
		ReviewUpdatedAt: nullTime(e.updatedAt),
		CreatedAt:       e.createdAt.Time.UTC(),
	}
}

func (r *NominationRepo) queryJoined(ctx context.Context, query string, args ...any) ([]domain.Nomination, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Nomination, 0)
	for rows.Next() {
		var ext externalCols
		rec, err := scanRecord(rows, ext.dest()...)
		if err != nil {
			return nil, fmt.Errorf("error scanning joined nomination row: %w", err)
		}
		out = append(out, domain.BuildNomination(rec, ext.reviewer()))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error in joined nomination query: %w", err)
	}
	return out, nil
}

func (r *NominationRepo) queryRecords(ctx context.Context, query string, args ...any) ([]domain.NominationRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.NominationRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning nomination row: %w", err)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error in nomination query: %w", err)
	}
	return out, nil
}

// Joined reads.

func (r *NominationRepo) JoinedByID(ctx context.Context, id string) (domain.Nomination, error) {
	list, err := r.queryJoined(ctx, "SELECT"+recordColumns+","+externalColumns+joinedFrom+" WHERE n.id = $1", id)
	if err != nil {
		return domain.Nomination{}, err
	}
	if len(list) == 0 {
		return domain.Nomination{}, domain.ErrNominationNotFound
	}
	return list[0], nil
}

func (r *NominationRepo) JoinedByParticipantAssessments(ctx context.Context, ids []string) ([]domain.Nomination, error) {
	query := "SELECT" + recordColumns + "," + externalColumns + joinedFrom +
		" WHERE n.participant_assessment_id = ANY($1)" + orderChronological
	return r.queryJoined(ctx, query, pq.Array(ids))
}

func (r *NominationRepo) JoinedByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.Nomination, error) {
	column := "n.reviewer_id"
	if isExternal {
		column = "n.external_reviewer_id"
	}
	query := "SELECT" + recordColumns + "," + externalColumns + joinedFrom +
		" WHERE n.is_external = $2 AND " + column + " = $1" + orderChronological
	return r.queryJoined(ctx, query, reviewerID, isExternal)
}

func (r *NominationRepo) JoinedByNominator(ctx context.Context, nominatorID string) ([]domain.Nomination, error) {
	query := "SELECT" + recordColumns + "," + externalColumns + joinedFrom +
		" WHERE n.nominated_by_id = $1" + orderChronological
	return r.queryJoined(ctx, query, nominatorID)
}

func (r *NominationRepo) JoinedByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.Nomination, error) {
	query := "SELECT" + recordColumns + "," + externalColumns + joinedFrom +
		" WHERE n.is_external AND n.external_reviewer_id = ANY($1)" + orderChronological
	return r.queryJoined(ctx, query, pq.Array(externalIDs))
}

// JoinedRecentForClient returns the newest nominations of a client by
// creation time.
func (r *NominationRepo) JoinedRecentForClient(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	query := "SELECT" + recordColumns + "," + externalColumns + joinedFrom + clientScope +
		" WHERE c.client_id = $1" + orderRecentFirst + " LIMIT $2"
	return r.queryJoined(ctx, query, clientID, limit)
}

// JoinedRecentReviewActivity returns accepted nominations of a client whose
// resolved review status shows progress, newest review activity first.
func (r *NominationRepo) JoinedRecentReviewActivity(ctx context.Context, clientID string, limit int) ([]domain.Nomination, error) {
	query := "SELECT" + recordColumns + "," + externalColumns + `,
			COALESCE(
				CASE WHEN n.is_external AND er.id IS NOT NULL THEN er.review_updated_at ELSE n.review_updated_at END,
				n.updated_at
			) AS review_at` + joinedFrom + clientScope + `
		WHERE c.client_id = $1
			AND n.request_status = 'accepted'
			AND COALESCE(
				CASE WHEN n.is_external AND er.id IS NOT NULL THEN er.review_status ELSE n.review_status END,
				'not_started'
			) IN ('in_progress', 'completed')` + orderReviewRecent + " LIMIT $2"

	rows, err := r.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Nomination, 0)
	for rows.Next() {
		var (
			ext      externalCols
			reviewAt time.Time
		)
		rec, err := scanRecord(rows, append(ext.dest(), &reviewAt)...)
		if err != nil {
			return nil, fmt.Errorf("error scanning review activity row: %w", err)
		}
		out = append(out, domain.BuildNomination(rec, ext.reviewer()))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error in review activity query: %w", err)
	}
	return out, nil
}

// Per-entity reads.

func (r *NominationRepo) RecordByID(ctx context.Context, id string) (domain.NominationRecord, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+recordColumns+" FROM nominations n WHERE n.id = $1", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, domain.ErrNominationNotFound
	}
	return rec, err
}

func (r *NominationRepo) RecordsByParticipantAssessments(ctx context.Context, ids []string) ([]domain.NominationRecord, error) {
	return r.queryRecords(ctx,
		"SELECT"+recordColumns+" FROM nominations n WHERE n.participant_assessment_id = ANY($1)",
		pq.Array(ids),
	)
}

func (r *NominationRepo) RecordsByReviewer(ctx context.Context, reviewerID string, isExternal bool) ([]domain.NominationRecord, error) {
	column := "n.reviewer_id"
	if isExternal {
		column = "n.external_reviewer_id"
	}
	return r.queryRecords(ctx,
		"SELECT"+recordColumns+" FROM nominations n WHERE n.is_external = $2 AND "+column+" = $1",
		reviewerID, isExternal,
	)
}

func (r *NominationRepo) RecordsByExternalReviewers(ctx context.Context, externalIDs []string) ([]domain.NominationRecord, error) {
	return r.queryRecords(ctx,
		"SELECT"+recordColumns+" FROM nominations n WHERE n.is_external AND n.external_reviewer_id = ANY($1)",
		pq.Array(externalIDs),
	)
}

func (r *NominationRepo) RecordsByNominator(ctx context.Context, nominatorID string) ([]domain.NominationRecord, error) {
	return r.queryRecords(ctx,
		"SELECT"+recordColumns+" FROM nominations n WHERE n.nominated_by_id = $1",
		nominatorID,
	)
}

// Mutations.

func (r *NominationRepo) Create(ctx context.Context, rec domain.NominationRecord) error {
	query := `
		INSERT INTO nominations (
			id, participant_assessment_id, nominated_by_id, is_external,
			reviewer_id, external_reviewer_id, request_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ParticipantAssessmentID, rec.NominatedByID, rec.IsExternal,
		rec.ReviewerID, rec.ExternalReviewerID, rec.RequestStatus, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting nomination %s: %w", rec.ID, err)
	}
	return nil
}

// Decide moves a pending request to decision. The update only applies while
// the row is still pending, so of two concurrent deciders exactly one wins.
func (r *NominationRepo) Decide(ctx context.Context, id string, decision domain.RequestStatus, at time.Time) (domain.NominationRecord, error) {
	query := `
		UPDATE nominations n
		SET request_status = $1, responded_at = $2, updated_at = $2
		WHERE n.id = $3 AND n.request_status = 'pending'
		RETURNING` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, decision, at, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, r.missOrConflict(ctx, id)
	}
	return rec, err
}

// SetOwnReviewStatus writes the review status column of the nomination row.
// It applies only to accepted nominations still in the expected state.
func (r *NominationRepo) SetOwnReviewStatus(ctx context.Context, id string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error) {
	query := `
		UPDATE nominations n
		SET review_status = $1,
			review_updated_at = $2,
			updated_at = $2,
			review_submitted_at = CASE WHEN $1::text = 'completed' THEN $2 ELSE n.review_submitted_at END
		WHERE n.id = $3
			AND n.request_status = 'accepted'
			AND COALESCE(n.review_status, 'not_started') = $4
		RETURNING` + recordColumns

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, to, at, id, from))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, r.missOrConflict(ctx, id)
	}
	return rec, err
}

// SetExternalReviewStatus writes the external reviewer's status and stamps
// the nomination in one transaction.
func (r *NominationRepo) SetExternalReviewStatus(ctx context.Context, id, externalID string, from, to domain.ReviewStatus, at time.Time) (domain.NominationRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NominationRecord{}, err
	}
	defer tx.Rollback()

	query := `
		UPDATE nominations n
		SET updated_at = $1,
			review_submitted_at = CASE WHEN $2::text = 'completed' THEN $1 ELSE n.review_submitted_at END
		WHERE n.id = $3 AND n.is_external AND n.external_reviewer_id = $4 AND n.request_status = 'accepted'
		RETURNING` + recordColumns

	rec, err := scanRecord(tx.QueryRowContext(ctx, query, at, to, id, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, r.missOrConflict(ctx, id)
	}
	if err != nil {
		return rec, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE external_reviewers
		SET review_status = $1, review_updated_at = $2
		WHERE id = $3 AND COALESCE(review_status, 'not_started') = $4
	`, to, at, externalID, from)
	if err != nil {
		return rec, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rec, domain.ErrInvalidTransition
	}

	if err := tx.Commit(); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *NominationRepo) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM nominations WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNominationNotFound
	}
	return domain.ErrInvalidTransition
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
