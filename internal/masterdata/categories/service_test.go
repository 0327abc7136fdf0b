package categories_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/masterdata/categories"
	mdshared "github.com/assetdesk/assetdesk/internal/masterdata/shared"
	"github.com/assetdesk/assetdesk/internal/shared"
	"github.com/assetdesk/assetdesk/internal/testing/memstore"
)

func TestCategoryLifecycle(t *testing.T) {
	store := memstore.New()
	svc := categories.NewService(store.Categories(), nil, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, categories.Input{Code: " ppr ", Name: "Paper & Printing", Description: "Kertas dan cetak"})
	require.NoError(t, err)
	require.Equal(t, "PPR", created.Code)

	_, err = svc.Create(ctx, categories.Input{Code: "PPR", Name: "Paper"})
	require.ErrorIs(t, err, shared.ErrConflict)

	updated, err := svc.Update(ctx, created.ID, categories.Input{Code: "PPR", Name: "Paper & Printing", Description: "Semua jenis kertas"})
	require.NoError(t, err)
	require.Equal(t, "Semua jenis kertas", updated.Description)

	list, err := svc.List(ctx, mdshared.ListFilters{Search: "paper"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCategoryValidation(t *testing.T) {
	svc := categories.NewService(memstore.New().Categories(), nil, nil)

	_, err := svc.Create(context.Background(), categories.Input{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "code")
	require.Contains(t, verr.Fields, "name")

	_, err = svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCategoryWithItemsCannotBeDeleted(t *testing.T) {
	store := memstore.New()
	id := store.SeedCategory("WRT", "Writing Instruments")
	store.SeedItem(catalog.Item{Code: "WRT-001", Name: "Pulpen", CategoryID: id, Unit: "pcs"})
	svc := categories.NewService(store.Categories(), nil, nil)

	require.ErrorIs(t, svc.Delete(context.Background(), id), shared.ErrConflict)
}
