package repository

import (
	"context"
	"testing"

	"github.com/mogcia-app/signal/pkg/db/dbtest"
	"github.com/mogcia-app/signal/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Code  string `gorm:"primaryKey"`
	Owner string
	Size  int
}

func setupStore(t *testing.T) Repository[widget] {
	t.Helper()
	return ProvideStore[widget](dbtest.Open(t, &widget{}), "code")
}

func TestStoreCRUDByKey(t *testing.T) {
	ctx := context.Background()
	repo := setupStore(t)

	require.NoError(t, repo.Create(ctx, &widget{Code: "a", Owner: "o1", Size: 1}))
	require.NoError(t, repo.Create(ctx, &widget{Code: "b", Owner: "o1", Size: 3}))
	require.NoError(t, repo.Create(ctx, &widget{Code: "c", Owner: "o2", Size: 2}))

	got, err := repo.FindByKey(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Size)

	missing, err := repo.FindByKey(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Update(ctx, "a", map[string]any{"size": 10}))
	got, err = repo.FindByKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Size)

	owned, err := repo.Find(ctx, &widget{Owner: "o1"}, option.WithOrder("size", true), option.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "a", owned[0].Code)

	count, err := repo.Count(ctx, &widget{Owner: "o1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, repo.Delete(ctx, "c"))
	count, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
