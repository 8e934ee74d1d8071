package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CachedLoader keeps the last parsed catalog in memory and drops it whenever
// one of the catalog files changes on disk.
type CachedLoader struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	tracked map[string]struct{}
	logger  *slog.Logger

	mu         sync.RWMutex
	cached     *Catalog
	generation uint64

	done chan struct{}
}

var _ Source = (*CachedLoader)(nil)

func NewCachedLoader(loader *Loader, logger *slog.Logger) (*CachedLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating catalog watcher: %w", err)
	}

	c := &CachedLoader{
		loader:  loader,
		watcher: watcher,
		tracked: make(map[string]struct{}),
		logger:  logger,
		done:    make(chan struct{}),
	}

	// Directories are watched rather than files: editors replace files on
	// save and a catalog may be created after startup.
	dirs := make(map[string]struct{})
	for _, path := range loader.Paths() {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("resolving catalog path %s: %w", path, err)
		}
		c.tracked[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			logger.Warn("Catalog directory not watchable",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching catalog directory %s: %w", dir, err)
		}
	}

	go c.watch()

	return c, nil
}

func (c *CachedLoader) Load(ctx context.Context) (*Catalog, error) {
	c.mu.RLock()
	cached, gen := c.cached, c.generation
	c.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	cat, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// A change that arrived while loading makes this result stale.
	if c.generation == gen {
		c.cached = cat
	}
	c.mu.Unlock()

	return cat, nil
}

func (c *CachedLoader) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.generation++
}

func (c *CachedLoader) Close() error {
	err := c.watcher.Close()
	<-c.done
	return err
}

func (c *CachedLoader) watch() {
	defer close(c.done)

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if _, tracked := c.tracked[filepath.Clean(event.Name)]; !tracked {
				continue
			}
			c.logger.Info("Rule catalog changed, invalidating cache",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()))
			c.Invalidate()

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("Catalog watcher failed", slog.String("error", err.Error()))
			c.Invalidate()
		}
	}
}
