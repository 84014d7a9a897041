package jsonfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bnema/harvest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeCache_Merge(t *testing.T) {
	t.Run("first merge counts every id as new", func(t *testing.T) {
		cache, err := NewScrapeCache(t.TempDir())
		require.NoError(t, err)

		added, err := cache.Merge("alice", []string{"v1", "v2", "v2", "v3"})
		require.NoError(t, err)
		assert.Equal(t, 3, added)

		seen, err := cache.Seen("alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"v1", "v2", "v3"}, seen)
	})

	t.Run("later merges only count unseen ids", func(t *testing.T) {
		dir := t.TempDir()
		cache, err := NewScrapeCache(dir)
		require.NoError(t, err)

		_, err = cache.Merge("alice", []string{"v1", "v2"})
		require.NoError(t, err)

		reopened, err := NewScrapeCache(dir)
		require.NoError(t, err)
		added, err := reopened.Merge("alice", []string{"v2", "v3", "v4"})
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		added, err = reopened.Merge("alice", []string{"v1"})
		require.NoError(t, err)
		assert.Zero(t, added)
	})

	t.Run("usernames are kept apart", func(t *testing.T) {
		cache, err := NewScrapeCache(t.TempDir())
		require.NoError(t, err)

		_, err = cache.Merge("alice", []string{"v1"})
		require.NoError(t, err)
		added, err := cache.Merge("bob", []string{"v1"})
		require.NoError(t, err)
		assert.Equal(t, 1, added)
	})

	t.Run("rejects usernames that would escape the cache dir", func(t *testing.T) {
		cache, err := NewScrapeCache(t.TempDir())
		require.NoError(t, err)

		_, err = cache.Merge("../evil", []string{"v1"})
		assert.ErrorIs(t, err, domain.ErrInvalidUsername)
	})

	t.Run("returns error for invalid JSON", func(t *testing.T) {
		dir := t.TempDir()
		cache, err := NewScrapeCache(dir)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cache", "alice.json"), []byte("invalid json"), 0600))

		_, err = cache.Merge("alice", []string{"v1"})
		assert.Error(t, err)
	})
}

func TestScrapeCache_ConcurrentMerge(t *testing.T) {
	cache, err := NewScrapeCache(t.TempDir())
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := cache.Merge("alice", []string{"v1", "v2", "v3"})
			if assert.NoError(t, err) {
				mu.Lock()
				total += added
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, total)
}
