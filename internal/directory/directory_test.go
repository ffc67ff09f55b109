package directory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/review-nominations/internal/directory"
	"github.com/3eLLenKa/review-nominations/internal/domain"
	"github.com/3eLLenKa/review-nominations/internal/fetch"
	"github.com/3eLLenKa/review-nominations/internal/testutil"
)

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*directory.Resolver, *testutil.Memory) {
	t.Helper()
	mem := testutil.NewMemory()
	mem.AddMember(domain.Member{ID: "u1", ClientID: "c1", Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"})
	mem.AddExternal(domain.ExternalReviewer{ID: "e1", ClientID: "c1", Email: "bob@partner.org"})
	mem.AddExternal(domain.ExternalReviewer{ID: "e2", ClientID: "c2", Email: "Bob@Partner.org", Name: "Bob"})

	f := fetch.New(testutil.Discard(), fetch.Settings{Name: t.Name(), Timeout: time.Second, MinRequests: 1000})
	return directory.New(testutil.Discard(), f, mem, mem), mem
}

func TestResolveReviewer(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	internal := r.ResolveReviewer(ctx, domain.Nomination{ID: "n1", ReviewerID: strPtr("u1")})
	assert.Equal(t, directory.KindInternal, internal.Kind)
	assert.True(t, internal.Known)
	assert.Equal(t, "Ada Lovelace", internal.DisplayName())

	external := r.ResolveReviewer(ctx, domain.Nomination{ID: "n2", IsExternal: true, ExternalReviewerID: strPtr("e1")})
	assert.Equal(t, directory.KindExternal, external.Kind)
	assert.Equal(t, "bob@partner.org", external.DisplayName())

	missing := r.ResolveReviewer(ctx, domain.Nomination{ID: "n3", IsExternal: true, ExternalReviewerID: strPtr("gone")})
	assert.Equal(t, directory.KindUnknown, missing.Kind)
	assert.False(t, missing.Known)
	assert.Equal(t, "Unknown", missing.DisplayName())

	noRef := r.ResolveReviewer(ctx, domain.Nomination{ID: "n4"})
	assert.Equal(t, directory.KindUnknown, noRef.Kind)
}

func TestResolveReviewerNeverFails(t *testing.T) {
	r, mem := setup(t)
	mem.FailEntities = true

	d := r.ResolveReviewer(context.Background(), domain.Nomination{ID: "n1", ReviewerID: strPtr("u1")})
	assert.Equal(t, directory.Unknown("u1"), d)
}

func TestResolveActorByEmail(t *testing.T) {
	ctx := context.Background()
	r, mem := setup(t)

	er, err := r.ResolveActorByEmail(ctx, "c1", " BOB@partner.org ")
	require.NoError(t, err)
	require.NotNil(t, er)
	assert.Equal(t, "e1", er.ID)

	er, err = r.ResolveActorByEmail(ctx, "c1", "nobody@partner.org")
	require.NoError(t, err)
	assert.Nil(t, er)

	mem.AddExternal(domain.ExternalReviewer{ID: "e3", ClientID: "c1", Email: "bob@PARTNER.org"})
	_, err = r.ResolveActorByEmail(ctx, "c1", "bob@partner.org")
	assert.ErrorIs(t, err, domain.ErrAmbiguousReviewerIdentity)
}

func TestResolveActorByEmailStorageDown(t *testing.T) {
	r, mem := setup(t)
	mem.FailEntities = true

	_, err := r.ResolveActorByEmail(context.Background(), "c1", "bob@partner.org")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestEnsureExternal(t *testing.T) {
	ctx := context.Background()
	r, mem := setup(t)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	existing, created, err := r.EnsureExternal(ctx, "c1", "Bob@partner.org", "", now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "e1", existing.ID)

	fresh, created, err := r.EnsureExternal(ctx, "c1", " carol@partner.org ", " Carol ", now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, fresh.ID)
	assert.Equal(t, "carol@partner.org", fresh.Email)
	assert.Equal(t, "Carol", fresh.Name)
	assert.Equal(t, domain.ReviewNotStarted, fresh.ReviewStatus)
	assert.Contains(t, mem.Externals, fresh.ID)
}

// lookupGate holds the first two email lookups until both have read, so
// both callers see an unregistered email before either inserts.
type lookupGate struct {
	*testutil.Memory
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func (g *lookupGate) ListExternalByEmail(ctx context.Context, clientID, email string) ([]domain.ExternalReviewer, error) {
	list, err := g.Memory.ListExternalByEmail(ctx, clientID, email)
	if g.calls.Add(1) <= 2 {
		g.arrived.Done()
		g.arrived.Wait()
	}
	return list, err
}

func TestEnsureExternalConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	mem := testutil.NewMemory()
	gate := &lookupGate{Memory: mem}
	gate.arrived.Add(2)

	f := fetch.New(testutil.Discard(), fetch.Settings{Name: t.Name(), Timeout: 5 * time.Second, MinRequests: 1000})
	r := directory.New(testutil.Discard(), f, mem, gate)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	type result struct {
		er      *domain.ExternalReviewer
		created bool
		err     error
	}
	results := make([]result, 2)
	emails := []string{"dana@partner.org", "Dana@Partner.org"}

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			er, created, err := r.EnsureExternal(ctx, "c1", emails[i], "Dana", now)
			results[i] = result{er, created, err}
		}(i)
	}
	wg.Wait()

	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)
	assert.Equal(t, results[0].er.ID, results[1].er.ID)
	assert.True(t, results[0].created != results[1].created, "exactly one caller registers")
	assert.Len(t, mem.Externals, 1)

	er, err := r.ResolveActorByEmail(ctx, "c1", "dana@partner.org")
	require.NoError(t, err)
	require.NotNil(t, er)
	assert.Equal(t, results[0].er.ID, er.ID)
}

func TestExternalIdentities(t *testing.T) {
	ctx := context.Background()
	r, _ := setup(t)

	list, err := r.ExternalIdentities(ctx, "bob@partner.org")
	require.NoError(t, err)
	assert.Len(t, list, 2, "identities span clients")

	list, err = r.ExternalIdentities(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSnapshot(t *testing.T) {
	r, _ := setup(t)
	nominations := []domain.Nomination{
		{ID: "n1", NominatedByID: "u1", IsExternal: true, ExternalReviewerID: strPtr("e2")},
		{ID: "n2", NominatedByID: "ghost", ReviewerID: strPtr("u1")},
		{ID: "n3", NominatedByID: "u1", IsExternal: true, ExternalReviewerID: strPtr("gone")},
	}

	s := r.Load(context.Background(), nominations, "u1")

	assert.Equal(t, "Bob", s.Reviewer(nominations[0]).DisplayName())
	assert.Equal(t, "Ada Lovelace", s.Reviewer(nominations[1]).DisplayName())
	assert.Equal(t, directory.Unknown("gone"), s.Reviewer(nominations[2]))
	assert.Equal(t, directory.Unknown("ghost"), s.Member("ghost"))
	assert.Equal(t, "Ada Lovelace", s.Member("u1").DisplayName())
}

func TestSnapshotDegradesToUnknown(t *testing.T) {
	r, mem := setup(t)
	mem.FailEntities = true
	n := domain.Nomination{ID: "n1", NominatedByID: "u1", ReviewerID: strPtr("u1")}

	s := r.Load(context.Background(), []domain.Nomination{n})

	assert.Equal(t, directory.Unknown("u1"), s.Reviewer(n))
}
