package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
	"github.com/3eLLenKa/review-nominations/internal/notify"
	"github.com/3eLLenKa/review-nominations/internal/store"
	"github.com/3eLLenKa/review-nominations/internal/testutil"
)

var (
	sessionStart = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	grace        = domain.Actor{ID: "u3", Email: "grace@example.com"}
)

func strPtr(s string) *string { return &s }

func after(minutes int) time.Time {
	return sessionStart.Add(time.Duration(minutes) * time.Minute)
}

type fixture struct {
	mem *testutil.Memory
	svc *notify.Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := testutil.NewMemory()
	mem.AddMember(domain.Member{ID: "u1", ClientID: "c1", Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"})
	mem.AddMember(domain.Member{ID: "u3", ClientID: "c1", Name: "Grace", Surname: "Hopper", Email: "grace@example.com"})
	mem.AddAssessment("c1", "co1", "Spring", "as1", "Leadership 360", domain.ParticipantAssessment{ID: "pa1", ParticipantID: "u3", UpdatedAt: sessionStart})
	mem.AddExternal(domain.ExternalReviewer{ID: "e3", ClientID: "c1", Email: "Grace@Example.com", Name: "Grace"})
	mem.AddExternal(domain.ExternalReviewer{ID: "e4", ClientID: "c1", Email: "bob@partner.org", Name: "Bob"})

	f := &fixture{mem: mem, now: sessionStart}
	fetcher := fetch.New(testutil.Discard(), fetch.Settings{Name: t.Name(), Timeout: time.Second, MinRequests: 1000})
	adapter := store.New(testutil.Discard(), fetcher, mem, mem, mem)
	dir := directory.New(testutil.Discard(), fetcher, mem, mem)
	f.svc = notify.New(testutil.Discard(), fetcher, adapter, mem, dir, func() time.Time { return f.now })
	return f
}

// seed writes the nominations Grace sees during one session.
func (f *fixture) seed() {
	// Before the session: never listed.
	f.mem.AddNomination(domain.NominationRecord{ID: "n0", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u3"), CreatedAt: sessionStart.Add(-time.Hour)})
	// Ada asks Grace for a review.
	f.mem.AddNomination(domain.NominationRecord{ID: "n1", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u3"), CreatedAt: after(1)})
	// Grace nominates her own external identity.
	f.mem.AddNomination(domain.NominationRecord{ID: "n2", ParticipantAssessmentID: "pa1", NominatedByID: "u3",
		IsExternal: true, ExternalReviewerID: strPtr("e3"), CreatedAt: after(2)})
	// Bob accepts Grace's request.
	f.mem.AddNomination(domain.NominationRecord{ID: "n3", ParticipantAssessmentID: "pa1", NominatedByID: "u3",
		IsExternal: true, ExternalReviewerID: strPtr("e4"), RequestStatus: domain.RequestAccepted,
		CreatedAt: sessionStart.Add(-time.Hour), RespondedAt: func() *time.Time { v := after(3); return &v }()})
}

func TestCountFromTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	from, err := f.svc.CountFromTime(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, sessionStart, from)

	f.now = after(5)
	_, err = f.svc.MarkChecked(ctx, "u3")
	require.NoError(t, err)

	from, err = f.svc.CountFromTime(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, after(5), from)
}

func TestUnseenCountExcludesSelfNomination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.ResetSession(ctx, "u3")
	require.NoError(t, err)
	f.seed()
	f.now = after(10)

	count, err := f.svc.ComputeUnseenCount(ctx, grace)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "n1 requested and n3 accepted; n2 is Grace's own")
}

func TestListSurvivesMarkChecked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.ResetSession(ctx, "u3")
	require.NoError(t, err)
	f.seed()
	f.now = after(10)

	list, err := f.svc.ListNotifications(ctx, grace)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].NominationID)
	assert.Equal(t, domain.NotificationRequestAccepted, list[0].Kind)
	assert.Equal(t, "Bob accepted your review request", list[0].Message)
	assert.Equal(t, "n1", list[1].NominationID)
	assert.Equal(t, domain.NotificationReviewRequested, list[1].Kind)
	assert.Equal(t, "Ada Lovelace asked you to review an assessment", list[1].Message)
	assert.True(t, list[0].Unseen)
	assert.True(t, list[1].Unseen)

	_, err = f.svc.MarkChecked(ctx, "u3")
	require.NoError(t, err)

	count, err := f.svc.ComputeUnseenCount(ctx, grace)
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err = f.svc.ListNotifications(ctx, grace)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].Unseen)
	assert.False(t, list[1].Unseen)

	f.mem.AddNomination(domain.NominationRecord{ID: "n5", ParticipantAssessmentID: "pa1", NominatedByID: "u1",
		ReviewerID: strPtr("u3"), CreatedAt: after(11)})
	f.now = after(12)

	count, err = f.svc.ComputeUnseenCount(ctx, grace)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResetSessionHidesEarlierEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.ResetSession(ctx, "u3")
	require.NoError(t, err)
	f.seed()

	f.now = after(10)
	_, err = f.svc.MarkChecked(ctx, "u3")
	require.NoError(t, err)

	f.now = after(20)
	w, err := f.svc.ResetSession(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, after(20), w.SessionStart)
	assert.Nil(t, w.LastChecked)

	list, err := f.svc.ListNotifications(ctx, grace)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFirstAccessOpensSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed()
	f.now = after(10)

	count, err := f.svc.ComputeUnseenCount(ctx, grace)
	require.NoError(t, err)
	assert.Zero(t, count, "events before the first access belong to no session")
}

func TestStorageFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mem.FailJoined = true
	f.mem.FailEntities = true

	_, err := f.svc.ComputeUnseenCount(ctx, grace)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestSelfNominated(t *testing.T) {
	n := domain.Nomination{IsExternal: true, NominatedByID: "u3"}
	assert.True(t, notify.SelfNominated(n, grace))
	assert.False(t, notify.SelfNominated(n, domain.Actor{ID: "u1"}))

	n.IsExternal = false
	assert.False(t, notify.SelfNominated(n, grace))
}
