package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// File cache for rendered post HTML. The cacheable unit is the markdown
// rendering of a post's text blocks, which is caller-independent; per-caller
// decorations are never cached.

const cacheRoot = "cache"

// GetCachePath returns the cache file path for a rendered post.
func GetCachePath(slug string) string {
	hash := generateHash(slug)
	shortHash := hash[:16]
	return filepath.Join(cacheRoot, "posts", fmt.Sprintf("%s_%s.html", slug, shortHash))
}

// generateHash generates an xxHash hash for the given string
func generateHash(s string) string {
	hash := xxhash.Sum64String(s)
	return fmt.Sprintf("%016x", hash)
}

// EnsureCacheDir ensures the cache directory exists
func EnsureCacheDir() error {
	return os.MkdirAll(filepath.Join(cacheRoot, "posts"), 0755)
}

// WriteCache writes rendered HTML to the cache file for a slug.
func WriteCache(slug, html string) error {
	if err := EnsureCacheDir(); err != nil {
		return err
	}
	return os.WriteFile(GetCachePath(slug), []byte(html), 0644)
}

// ReadCache reads rendered HTML for a slug if present and not expired.
func ReadCache(slug string, maxAge time.Duration) (string, bool) {
	cachePath := GetCachePath(slug)

	info, err := os.Stat(cachePath)
	if err != nil {
		return "", false
	}

	if time.Since(info.ModTime()) > maxAge {
		return "", false
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}

	return string(content), true
}

// ClearCache removes the cache entry for a slug. Called on every post
// mutation so stale renders never outlive an edit.
func ClearCache(slug string) error {
	err := os.Remove(GetCachePath(slug))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// A slug change leaves entries behind under the old name; sweep any
	// file with this slug prefix too.
	pattern := filepath.Join(cacheRoot, "posts", slug+"_*.html")
	matches, globErr := filepath.Glob(pattern)
	if globErr == nil {
		for _, match := range matches {
			os.Remove(match)
		}
	}
	return nil
}

// ClearOldCache removes cache files older than the specified duration.
func ClearOldCache(maxAge time.Duration) error {
	if _, err := os.Stat(cacheRoot); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(cacheRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		if time.Since(info.ModTime()) > maxAge {
			os.Remove(path)
		}
		return nil
	})
}
