// Package discovery enumerates analyzer stream directories.
package discovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// streamNameRe matches stream directory names: 2-3 uppercase letters plus a
// session digit, e.g. ES1, RTY2.
var streamNameRe = regexp.MustCompile(`^[A-Z]{2,3}[12]$`)

// cache entry keyed by (absolute path, directory mtime). Read-mostly; the
// mtime key invalidates the entry when the directory changes.
type cacheKey struct {
	path  string
	mtime time.Time
}

var streamCache = struct {
	sync.RWMutex
	m map[cacheKey][]string
}{m: make(map[cacheKey][]string)}

// Streams returns the sorted list of stream names found under
// analyzerRunsDir. A missing directory is not an error: it logs a warning
// and returns an empty list.
func Streams(analyzerRunsDir string, log *slog.Logger) []string {
	abs, err := filepath.Abs(analyzerRunsDir)
	if err != nil {
		abs = analyzerRunsDir
	}

	info, err := os.Stat(abs)
	if err != nil {
		log.Warn("analyzer runs directory missing", "dir", analyzerRunsDir, "error", err)
		return nil
	}

	key := cacheKey{path: abs, mtime: info.ModTime()}

	streamCache.RLock()
	cached, ok := streamCache.m[key]
	streamCache.RUnlock()
	if ok {
		return append([]string(nil), cached...)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		log.Warn("reading analyzer runs directory", "dir", analyzerRunsDir, "error", err)
		return nil
	}

	var streams []string
	for _, e := range entries {
		if e.IsDir() && streamNameRe.MatchString(e.Name()) {
			streams = append(streams, e.Name())
		}
	}
	sort.Strings(streams)

	streamCache.Lock()
	// Drop stale entries for the same path so the cache does not grow with
	// every directory change.
	for k := range streamCache.m {
		if k.path == abs && k != key {
			delete(streamCache.m, k)
		}
	}
	streamCache.m[key] = append([]string(nil), streams...)
	streamCache.Unlock()

	return streams
}
