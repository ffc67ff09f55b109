package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/repository/postgres"
)

// Discard is a logger for tests that do not assert on log output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupPostgres starts a PostgreSQL container, applies the embedded
// migrations and returns a connection. Skipped in -short mode.
func SetupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("nominations_test"),
		tcpostgres.WithUsername("nominations_test"),
		tcpostgres.WithPassword("nominations_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pg, err := postgres.New(connStr, postgres.Options{MaxOpenConns: 5})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { _ = pg.Close() })

	if err := postgres.Migrate(ctx, pg.Db, "", Discard()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return pg.Db
}

// Fixture rows, inserted in dependency order.

func InsertClient(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	mustExec(t, db, "INSERT INTO clients (id, name) VALUES ($1, $1)", id)
}

func InsertMember(t *testing.T, db *sql.DB, id, clientID, name, surname, email string) {
	t.Helper()
	mustExec(t, db, "INSERT INTO members (id, client_id, name, surname, email) VALUES ($1, $2, $3, $4, $5)",
		id, clientID, name, surname, email)
}

func InsertParticipantAssessment(t *testing.T, db *sql.DB, clientID, cohortID, assessmentID, paID, participantID string, status string, updatedAt time.Time) {
	t.Helper()
	mustExec(t, db, "INSERT INTO cohorts (id, client_id, name) VALUES ($1, $2, $1) ON CONFLICT DO NOTHING", cohortID, clientID)
	mustExec(t, db, "INSERT INTO assessments (id, cohort_id, name) VALUES ($1, $2, $1) ON CONFLICT DO NOTHING", assessmentID, cohortID)
	mustExec(t, db, `
		INSERT INTO participant_assessments (id, assessment_id, participant_id, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $4::text <> 'not_started' THEN $5::timestamptz END, $5)`,
		paID, assessmentID, participantID, status, updatedAt)
}

func InsertExternal(t *testing.T, db *sql.DB, id, clientID, email string, status *string, createdAt time.Time) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO external_reviewers (id, client_id, email, review_status, review_updated_at, created_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $4::text IS NOT NULL THEN $5::timestamptz END, $5)`,
		id, clientID, email, status, createdAt)
}

// InsertNomination writes rec as is, including review columns the
// repositories never set on insert.
func InsertNomination(t *testing.T, db *sql.DB, rec domain.NominationRecord) {
	t.Helper()
	if rec.RequestStatus == "" {
		rec.RequestStatus = domain.RequestPending
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	mustExec(t, db, `
		INSERT INTO nominations (
			id, participant_assessment_id, nominated_by_id, is_external, reviewer_id, external_reviewer_id,
			request_status, review_status, review_updated_at, created_at, updated_at, responded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.ParticipantAssessmentID, rec.NominatedByID, rec.IsExternal, rec.ReviewerID, rec.ExternalReviewerID,
		string(rec.RequestStatus), rec.ReviewStatus, rec.ReviewUpdatedAt, rec.CreatedAt, rec.UpdatedAt, rec.RespondedAt)
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("fixture query failed: %v", err)
	}
}
