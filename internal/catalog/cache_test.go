package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedLoader_ReusesCatalogUntilChanged(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.json", baseCatalog)

	cached, err := NewCachedLoader(NewLoader(LoaderConfig{Paths: []string{path}}, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cached.Close() })

	ctx := context.Background()
	first, err := cached.Load(ctx)
	require.NoError(t, err)
	second, err := cached.Load(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte(legacyCatalog), 0o644))

	require.Eventually(t, func() bool {
		cat, err := cached.Load(ctx)
		return err == nil && len(cat.Rules) == 2 && cat.Rules[0].Code == "CLI001"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCachedLoader_PicksUpCatalogCreatedLater(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.json")

	cached, err := NewCachedLoader(NewLoader(LoaderConfig{Paths: []string{path}}, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cached.Close() })

	cat, err := cached.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cat.Rules)

	writeFile(t, dir, "late.json", baseCatalog)

	require.Eventually(t, func() bool {
		cat, err := cached.Load(context.Background())
		return err == nil && len(cat.Rules) == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCachedLoader_Invalidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.json", baseCatalog)

	cached, err := NewCachedLoader(NewLoader(LoaderConfig{Paths: []string{path}}, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cached.Close() })

	first, err := cached.Load(context.Background())
	require.NoError(t, err)

	cached.Invalidate()

	second, err := cached.Load(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Rules, second.Rules)
}
