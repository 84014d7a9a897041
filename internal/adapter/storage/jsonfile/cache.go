// Package jsonfile keeps the ids already scraped for each username in one
// JSON file per username.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port"
)

type cacheFile struct {
	Username  string    `json:"username"`
	VideoIDs  []string  `json:"video_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ScrapeCache struct {
	mu  sync.Mutex
	dir string
}

func NewScrapeCache(dataDir string) (*ScrapeCache, error) {
	dir := filepath.Join(dataDir, "cache")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &ScrapeCache{dir: dir}, nil
}

func (c *ScrapeCache) path(username string) string {
	return filepath.Join(c.dir, username+".json")
}

// Seen returns the ids recorded for username.
func (c *ScrapeCache) Seen(username string) ([]string, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load(username)
	if err != nil {
		return nil, err
	}
	return f.VideoIDs, nil
}

func (c *ScrapeCache) Merge(username string, ids []string) (int, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.load(username)
	if err != nil {
		return 0, err
	}

	known := make(map[string]struct{}, len(f.VideoIDs))
	for _, id := range f.VideoIDs {
		known[id] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		f.VideoIDs = append(f.VideoIDs, id)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	sort.Strings(f.VideoIDs)
	f.Username = username
	f.UpdatedAt = time.Now().UTC()
	if err := c.save(username, f); err != nil {
		return 0, err
	}
	return added, nil
}

func (c *ScrapeCache) load(username string) (*cacheFile, error) {
	data, err := os.ReadFile(c.path(username))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cacheFile{Username: username}, nil
		}
		return nil, fmt.Errorf("read cache of %s: %w", username, err)
	}
	if len(data) == 0 {
		return &cacheFile{Username: username}, nil
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode cache of %s: %w", username, err)
	}
	return &f, nil
}

func (c *ScrapeCache) save(username string, f *cacheFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := c.path(username) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write cache of %s: %w", username, err)
	}
	return os.Rename(tmpPath, c.path(username))
}

var _ port.ScrapeCache = (*ScrapeCache)(nil)
