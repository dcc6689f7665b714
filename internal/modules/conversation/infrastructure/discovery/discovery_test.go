package discovery

import (
	"context"
	"errors"
	"testing"

	"InsightLink/internal/config"
	aiservice "InsightLink/internal/modules/ai/application/service"
	"InsightLink/internal/modules/ai/domain/contextitem"
	aiEmbedding "InsightLink/internal/modules/ai/infrastructure/embedding"
	"InsightLink/internal/modules/ai/infrastructure/vectordb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grants map[string][]string

func (g grants) PermissionFor(_ context.Context, userID string) (contextitem.PermissionSet, error) {
	if userID == "broken" {
		return contextitem.PermissionSet{}, errors.New("grant lookup failed")
	}
	return aiservice.BuildPermission(userID, g[userID]), nil
}

var sources = []config.DataSourceConfig{
	{ID: "sales_dw", Name: "Sales warehouse", Description: "orders revenue refunds", Domain: "sales", Schema: "orders(id, amount, region)"},
	{ID: "hr_dw", Name: "HR warehouse", Description: "employees payroll headcount", Domain: "hr"},
	{ID: " ", Name: "blank"},
	{ID: "sales_dw", Name: "duplicate"},
	{ID: "public_dw", Name: "Public data", Description: "holidays calendar"},
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(sources)
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "hr_dw", all[0].ID)

	s, ok := r.Get(" sales_dw ")
	require.True(t, ok)
	assert.Equal(t, "Sales warehouse", s.Name)

	info, ok := r.Schema("sales_dw")
	require.True(t, ok)
	assert.Equal(t, "orders(id, amount, region)", info.Schema)

	_, ok = r.Schema("missing")
	assert.False(t, ok)
}

func newIndexedStore(t *testing.T, reg *Registry) aiservice.EmbeddingStore {
	t.Helper()
	store := aiservice.NewEmbeddingStore(aiEmbedding.NewHashingEmbedder(64), vectordb.NewMemoryStore(64), nil,
		aiservice.EmbeddingStoreOptions{ModelVersion: "hashing-64", Dimension: 64})
	ctx := context.Background()
	for _, s := range reg.All() {
		text := s.Name + ". " + s.Description
		vec, err := store.Generate(ctx, text)
		require.NoError(t, err)
		require.NoError(t, store.Store(ctx, string(contextitem.NamespaceDataSource), s.ID, text, vec,
			map[string]string{contextitem.MetaDomain: s.Domain}))
	}
	return store
}

func TestDiscoverRanksVisibleSources(t *testing.T) {
	reg := NewRegistry(sources)
	d := NewEmbeddingDiscoverer(reg, newIndexedStore(t, reg), grants{"u1": {"sales"}}, 5)

	got, err := d.Discover(context.Background(), "u1", "orders revenue last month")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "sales_dw", got[0].DataSourceID)
	assert.Equal(t, "Sales warehouse", got[0].Name)
	for i, c := range got {
		assert.NotEqual(t, "hr_dw", c.DataSourceID)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].MatchScore, c.MatchScore)
		}
	}
}

func TestDiscoverFallsBackToListing(t *testing.T) {
	reg := NewRegistry(sources)
	d := NewEmbeddingDiscoverer(reg, nil, grants{"u2": {"hr"}}, 0)

	got, err := d.Discover(context.Background(), "u2", "")
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.DataSourceID)
		assert.Zero(t, c.MatchScore)
	}
	assert.Equal(t, []string{"hr_dw", "public_dw"}, ids)

	_, err = d.Discover(context.Background(), "broken", "orders")
	assert.Error(t, err)
}
