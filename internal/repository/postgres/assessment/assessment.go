package pg_assessment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/3eLLenKa/review-nominations/internal/domain"
)

const paColumns = "pa.id, pa.assessment_id, pa.participant_id, pa.status, pa.started_at, pa.completed_at, pa.updated_at"

type AssessmentRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *AssessmentRepo {
	return &AssessmentRepo{db: db}
}

func (r *AssessmentRepo) listParticipantAssessments(ctx context.Context, query string, args ...any) ([]domain.ParticipantAssessment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ParticipantAssessment, 0)
	for rows.Next() {
		var (
			pa          domain.ParticipantAssessment
			status      string
			startedAt   sql.NullTime
			completedAt sql.NullTime
		)
		if err := rows.Scan(&pa.ID, &pa.AssessmentID, &pa.ParticipantID, &status, &startedAt, &completedAt, &pa.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning participant assessment row: %w", err)
		}
		pa.Status = domain.AssessmentStatus(status)
		pa.StartedAt = nullTime(startedAt)
		pa.CompletedAt = nullTime(completedAt)
		pa.UpdatedAt = pa.UpdatedAt.UTC()
		out = append(out, pa)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in participant assessment query: %w", rows.Err())
	}
	return out, nil
}

// JoinedRecentProgress returns started or completed participant assessments
// of a client, most recently updated first.
func (r *AssessmentRepo) JoinedRecentProgress(ctx context.Context, clientID string, limit int) ([]domain.ParticipantAssessment, error) {
	query := `
		SELECT ` + paColumns + `
		FROM participant_assessments pa
		JOIN assessments a ON a.id = pa.assessment_id
		JOIN cohorts c ON c.id = a.cohort_id
		WHERE c.client_id = $1 AND pa.status IN ('in_progress', 'completed')
		ORDER BY pa.updated_at DESC, pa.id COLLATE "C" DESC
		LIMIT $2
	`
	return r.listParticipantAssessments(ctx, query, clientID, limit)
}

func (r *AssessmentRepo) JoinedContexts(ctx context.Context, participantAssessmentIDs []string) ([]domain.AssessmentContext, error) {
	query := `
		SELECT pa.id, pa.participant_id, a.name, c.name, c.client_id
		FROM participant_assessments pa
		JOIN assessments a ON a.id = pa.assessment_id
		JOIN cohorts c ON c.id = a.cohort_id
		WHERE pa.id = ANY($1)
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(participantAssessmentIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AssessmentContext, 0, len(participantAssessmentIDs))
	for rows.Next() {
		var c domain.AssessmentContext
		if err := rows.Scan(&c.ParticipantAssessmentID, &c.ParticipantID, &c.AssessmentName, &c.CohortName, &c.ClientID); err != nil {
			return nil, fmt.Errorf("error scanning assessment context row: %w", err)
		}
		out = append(out, c)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows iteration error in JoinedContexts: %w", rows.Err())
	}
	return out, nil
}

func (r *AssessmentRepo) ListCohortsByClient(ctx context.Context, clientID string) ([]domain.Cohort, error) {
	return r.listCohorts(ctx, "SELECT id, client_id, name FROM cohorts WHERE client_id = $1", clientID)
}

func (r *AssessmentRepo) ListCohortsByIds(ctx context.Context, ids []string) ([]domain.Cohort, error) {
	return r.listCohorts(ctx, "SELECT id, client_id, name FROM cohorts WHERE id = ANY($1)", pq.Array(ids))
}

func (r *AssessmentRepo) listCohorts(ctx context.Context, query string, args ...any) ([]domain.Cohort, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Cohort, 0)
	for rows.Next() {
		var c domain.Cohort
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Name); err != nil {
			return nil, fmt.Errorf("error scanning cohort row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *AssessmentRepo) ListAssessmentsByCohorts(ctx context.Context, cohortIDs []string) ([]domain.Assessment, error) {
	return r.listAssessments(ctx, "SELECT id, cohort_id, name FROM assessments WHERE cohort_id = ANY($1)", pq.Array(cohortIDs))
}

func (r *AssessmentRepo) ListAssessmentsByIds(ctx context.Context, ids []string) ([]domain.Assessment, error) {
	return r.listAssessments(ctx, "SELECT id, cohort_id, name FROM assessments WHERE id = ANY($1)", pq.Array(ids))
}

func (r *AssessmentRepo) listAssessments(ctx context.Context, query string, args ...any) ([]domain.Assessment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Assessment, 0)
	for rows.Next() {
		var a domain.Assessment
		if err := rows.Scan(&a.ID, &a.CohortID, &a.Name); err != nil {
			return nil, fmt.Errorf("error scanning assessment row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AssessmentRepo) ListParticipantAssessmentsByAssessments(ctx context.Context, assessmentIDs []string) ([]domain.ParticipantAssessment, error) {
	return r.listParticipantAssessments(ctx,
		"SELECT "+paColumns+" FROM participant_assessments pa WHERE pa.assessment_id = ANY($1)",
		pq.Array(assessmentIDs),
	)
}

func (r *AssessmentRepo) ListParticipantAssessmentsByIds(ctx context.Context, ids []string) ([]domain.ParticipantAssessment, error) {
	return r.listParticipantAssessments(ctx,
		"SELECT "+paColumns+" FROM participant_assessments pa WHERE pa.id = ANY($1)",
		pq.Array(ids),
	)
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
