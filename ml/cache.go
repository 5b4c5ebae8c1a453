package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ArtifactCache keeps decoded artifacts in memory. An entry is reused only
// while the file's modification time and size are unchanged, so a new
// training run is picked up even without a watcher.
type ArtifactCache struct {
	entries *lru.Cache[string, cachedArtifact]
	logger  *zap.Logger

	// OnLookup is called after every lookup with the artifact path and
	// whether it was served from memory.
	OnLookup func(path string, hit bool)
}

type cachedArtifact struct {
	modTime time.Time
	size    int64
	value   any
}

// NewArtifactCache 创建容量为 size 的模型文件缓存
func NewArtifactCache(size int, logger *zap.Logger) (*ArtifactCache, error) {
	if size <= 0 {
		size = 8
	}
	entries, err := lru.New[string, cachedArtifact](size)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactCache{entries: entries, logger: logger.Named("artifact_cache")}, nil
}

// loadCached returns the artifact at path, decoding it with load on a miss.
// A nil cache always calls load.
func loadCached[T any](c *ArtifactCache, path string, load func(string) (T, error)) (T, error) {
	if c == nil {
		return load(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		c.entries.Remove(path)
		c.observe(path, false)
		return load(path)
	}
	if e, ok := c.entries.Get(path); ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		if v, ok := e.value.(T); ok {
			c.observe(path, true)
			return v, nil
		}
	}
	c.observe(path, false)

	v, err := load(path)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entries.Add(path, cachedArtifact{modTime: info.ModTime(), size: info.Size(), value: v})
	return v, nil
}

func (c *ArtifactCache) observe(path string, hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(path, hit)
	}
}

// Invalidate 移除 path 的缓存项
func (c *ArtifactCache) Invalidate(path string) {
	if c.entries.Remove(path) {
		c.logger.Debug("artifact evicted", zap.String("path", path))
	}
}

// Len 缓存项数量
func (c *ArtifactCache) Len() int {
	return c.entries.Len()
}

// Watch evicts entries as soon as their files change on disk. It blocks
// until ctx is done. ready, if not nil, is closed once the watches are in place.
func (c *ArtifactCache) Watch(ctx context.Context, ready chan<- struct{}, paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				c.evictPath(abs, paths)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

// evictPath removes the entry under whichever spelling of the path it was
// cached with.
func (c *ArtifactCache) evictPath(abs string, paths []string) {
	c.Invalidate(abs)
	for _, p := range paths {
		if a, err := filepath.Abs(p); err == nil && a == abs {
			c.Invalidate(p)
		}
	}
}
