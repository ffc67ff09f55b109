package pg_nomination_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	pg_nomination "github.com/3eLLenKa/review-nominations/internal/repository/postgres/nomination"
	"github.com/3eLLenKa/review-nominations/internal/testutil"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*sql.DB, *pg_nomination.NominationRepo) {
	t.Helper()
	db := testutil.SetupPostgres(t)

	testutil.InsertClient(t, db, "c1")
	testutil.InsertMember(t, db, "u1", "c1", "Ada", "Lovelace", "ada@example.com")
	testutil.InsertMember(t, db, "u2", "c1", "Alan", "Turing", "alan@example.com")
	testutil.InsertParticipantAssessment(t, db, "c1", "co1", "as1", "pa1", "u1", "in_progress", t0)
	testutil.InsertExternal(t, db, "e1", "c1", "bob@partner.org", nil, t0)

	return db, pg_nomination.New(db)
}

func TestCreateAndJoinedByID(t *testing.T) {
	ctx := context.Background()
	_, repo := setup(t)

	err := repo.Create(ctx, domain.NominationRecord{
		ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u2"), RequestStatus: domain.RequestPending, CreatedAt: t0,
	})
	require.NoError(t, err)

	n, err := repo.JoinedByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "u2", *n.ReviewerID)
	assert.Equal(t, domain.RequestPending, n.RequestStatus)
	assert.Equal(t, domain.SourceInternal, n.Review.Kind())
	assert.Equal(t, domain.ReviewNotStarted, n.Review.Status())
	assert.Equal(t, t0, n.CreatedAt)

	_, err = repo.JoinedByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRejectsTwoReviewers(t *testing.T) {
	_, repo := setup(t)

	err := repo.Create(context.Background(), domain.NominationRecord{
		ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1", IsExternal: true,
		ReviewerID: strPtr("u2"), ExternalReviewerID: strPtr("e1"), RequestStatus: domain.RequestPending, CreatedAt: t0,
	})
	assert.Error(t, err)
}

func TestJoinedResolvesExternalReviewer(t *testing.T) {
	ctx := context.Background()
	db, repo := setup(t)

	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		IsExternal: true, ExternalReviewerID: strPtr("e1"), RequestStatus: domain.RequestAccepted,
		ReviewStatus: strPtr("completed"), CreatedAt: t0})
	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n2", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		IsExternal: true, ExternalReviewerID: strPtr("gone"), RequestStatus: domain.RequestAccepted,
		ReviewStatus: strPtr("in_progress"), CreatedAt: t0})

	n1, err := repo.JoinedByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceExternal, n1.Review.Kind())
	assert.False(t, n1.Review.Stale())
	assert.Equal(t, domain.ReviewNotStarted, n1.Review.Status(), "the nomination's own column is ignored")

	n2, err := repo.JoinedByID(ctx, "n2")
	require.NoError(t, err)
	assert.True(t, n2.Review.Stale())
	assert.Equal(t, domain.ReviewInProgress, n2.Review.Status())
}

func TestDecideIsConditional(t *testing.T) {
	ctx := context.Background()
	db, repo := setup(t)
	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u2"), CreatedAt: t0})

	at := t0.Add(time.Hour)
	rec, err := repo.Decide(ctx, "n1", domain.RequestAccepted, at)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, rec.RequestStatus)
	require.NotNil(t, rec.RespondedAt)
	assert.Equal(t, at, *rec.RespondedAt)

	_, err = repo.Decide(ctx, "n1", domain.RequestRejected, at.Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.Decide(ctx, "missing", domain.RequestRejected, at)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetOwnReviewStatus(t *testing.T) {
	ctx := context.Background()
	db, repo := setup(t)
	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u2"), RequestStatus: domain.RequestAccepted, CreatedAt: t0})
	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n2", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u2"), CreatedAt: t0})

	rec, err := repo.SetOwnReviewStatus(ctx, "n1", domain.ReviewNotStarted, domain.ReviewInProgress, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "in_progress", *rec.ReviewStatus)
	assert.Nil(t, rec.ReviewSubmittedAt)

	_, err = repo.SetOwnReviewStatus(ctx, "n1", domain.ReviewNotStarted, domain.ReviewInProgress, t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	done := t0.Add(3 * time.Hour)
	rec, err = repo.SetOwnReviewStatus(ctx, "n1", domain.ReviewInProgress, domain.ReviewCompleted, done)
	require.NoError(t, err)
	require.NotNil(t, rec.ReviewSubmittedAt)
	assert.Equal(t, done, *rec.ReviewSubmittedAt)

	_, err = repo.SetOwnReviewStatus(ctx, "n2", domain.ReviewNotStarted, domain.ReviewInProgress, done)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending requests have no review")
}

func TestSetExternalReviewStatus(t *testing.T) {
	ctx := context.Background()
	db, repo := setup(t)
	testutil.InsertNomination(t, db, domain.NominationRecord{ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		IsExternal: true, ExternalReviewerID: strPtr("e1"), RequestStatus: domain.RequestAccepted, CreatedAt: t0})

	at := t0.Add(time.Hour)
	rec, err := repo.SetExternalReviewStatus(ctx, "n1", "e1", domain.ReviewNotStarted, domain.ReviewInProgress, at)
	require.NoError(t, err)
	assert.Nil(t, rec.ReviewStatus)

	var status string
	require.NoError(t, db.QueryRow("SELECT review_status FROM external_reviewers WHERE id = 'e1'").Scan(&status))
	assert.Equal(t, "in_progress", status)

	// A stale expectation rolls back the nomination stamp as well.
	_, err = repo.SetExternalReviewStatus(ctx, "n1", "e1", domain.ReviewNotStarted, domain.ReviewInProgress, at.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, err := repo.RecordByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, at, after.UpdatedAt)
}
