package pg_external_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3eLLenKa/review-nominations/internal/domain"
	pg_external "github.com/3eLLenKa/review-nominations/internal/repository/postgres/external"
	"github.com/3eLLenKa/review-nominations/internal/testutil"
)

func TestListExternalByEmail(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupPostgres(t)
	repo := pg_external.New(db)
	t0 := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	testutil.InsertClient(t, db, "c1")
	testutil.InsertClient(t, db, "c2")
	for _, er := range []domain.ExternalReviewer{
		{ID: "e1", ClientID: "c1", Email: "Bob@Partner.org", Name: "Bob", CreatedAt: t0},
		{ID: "e2", ClientID: "c2", Email: "bob@partner.org", CreatedAt: t0.Add(time.Minute)},
		{ID: "e3", ClientID: "c1", Email: "carol@partner.org", CreatedAt: t0},
	} {
		_, err := repo.CreateExternal(ctx, er)
		require.NoError(t, err)
	}

	inClient, err := repo.ListExternalByEmail(ctx, "c1", "BOB@partner.org")
	require.NoError(t, err)
	require.Len(t, inClient, 1)
	assert.Equal(t, "e1", inClient[0].ID)
	assert.Equal(t, "Bob", inClient[0].Name)
	assert.Equal(t, domain.ReviewNotStarted, inClient[0].ReviewStatus)
	assert.Nil(t, inClient[0].ReviewUpdatedAt)

	everywhere, err := repo.ListExternalByEmail(ctx, "", "bob@partner.org")
	require.NoError(t, err)
	require.Len(t, everywhere, 2)
	assert.Equal(t, "e1", everywhere[0].ID)
	assert.Equal(t, "e2", everywhere[1].ID)

	none, err := repo.ListExternalByEmail(ctx, "c2", "carol@partner.org")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetExternalById(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupPostgres(t)
	repo := pg_external.New(db)
	t0 := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	testutil.InsertClient(t, db, "c1")
	status := "completed"
	testutil.InsertExternal(t, db, "e1", "c1", "bob@partner.org", &status, t0)

	er, err := repo.GetExternalById(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCompleted, er.ReviewStatus)
	require.NotNil(t, er.ReviewUpdatedAt)
	assert.Equal(t, t0, *er.ReviewUpdatedAt)
	assert.Equal(t, t0, er.CreatedAt)

	_, err = repo.GetExternalById(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateExternalKeepsOneRowPerClientEmail(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupPostgres(t)
	repo := pg_external.New(db)
	t0 := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	testutil.InsertClient(t, db, "c1")

	first, err := repo.CreateExternal(ctx, domain.ExternalReviewer{ID: "e1", ClientID: "c1", Email: "dana@partner.org", Name: "Dana", CreatedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, "e1", first.ID)

	second, err := repo.CreateExternal(ctx, domain.ExternalReviewer{ID: "e2", ClientID: "c1", Email: "DANA@partner.org", CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "e1", second.ID)
	assert.Equal(t, "Dana", second.Name)
	assert.Equal(t, t0, second.CreatedAt)

	list, err := repo.ListExternalByEmail(ctx, "c1", "dana@partner.org")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
