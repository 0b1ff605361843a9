// Package library scans a configured folder into library items and keeps the
// result current by watching the folder tree.
package library

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"home-library/internal/metadata"
	"home-library/internal/metrics"
	"home-library/internal/models"
)

// "CD1", "Disc 2" folders belong to the book above them.
var discPattern = regexp.MustCompile(`(?i)^(cd|dis[ck])\s*\d+$`)

// Options tune a Library.
type Options struct {
	// Extensions lists the audio file extensions to scan.
	Extensions []string
	// Prefixes are the leading articles stripped for titleIgnorePrefix.
	Prefixes []string
	Debounce time.Duration
	Logger   *logrus.Logger
	// OnRefresh receives every new snapshot, including the initial one.
	OnRefresh func(items []*models.LibraryItem)
}

// Library holds the current items of one configured library folder.
type Library struct {
	info      models.Library
	prefixes  []string
	allowed   map[string]struct{}
	watcher   *fsnotify.Watcher
	logger    *logrus.Logger
	onRefresh func([]*models.LibraryItem)

	mu    sync.RWMutex
	items []*models.LibraryItem
	byID  map[string]*models.LibraryItem

	scanMu       sync.Mutex
	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New scans info.Path and starts watching it.
func New(info models.Library, opts Options) (*Library, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	l := &Library{
		info:         info,
		prefixes:     opts.Prefixes,
		allowed:      make(map[string]struct{}, len(opts.Extensions)),
		watcher:      watcher,
		logger:       logger,
		onRefresh:    opts.OnRefresh,
		byID:         make(map[string]*models.LibraryItem),
		refreshDelay: opts.Debounce,
		done:         make(chan struct{}),
	}

	for _, ext := range opts.Extensions {
		l.allowed[strings.ToLower(ext)] = struct{}{}
	}

	if err := os.MkdirAll(info.Path, 0o755); err != nil {
		watcher.Close()
		return nil, err
	}

	l.addWatchRecursive(info.Path)

	if err := l.Refresh(); err != nil {
		watcher.Close()
		return nil, err
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Close stops the watcher and cleans up resources.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		l.refreshMu.Lock()
		if l.refreshTimer != nil {
			l.refreshTimer.Stop()
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()

		l.closeErr = l.watcher.Close()
		l.wg.Wait()
	})
	return l.closeErr
}

// Info describes the library.
func (l *Library) Info() models.Library {
	return l.info
}

// Snapshot returns the current items ordered by relative path. Items are
// replaced, never mutated, by later scans, so callers may keep the slice for
// the duration of a request.
func (l *Library) Snapshot() []*models.LibraryItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.LibraryItem, len(l.items))
	copy(result, l.items)
	return result
}

// Item returns the current item with the given id.
func (l *Library) Item(id string) (*models.LibraryItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.byID[id]
	return item, ok
}

// Refresh rescans the library folder. Items whose folder vanished are kept
// and flagged missing.
func (l *Library) Refresh() error {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	start := time.Now()
	groups := make(map[string][]metadata.Track)

	err := filepath.WalkDir(l.info.Path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			l.logger.WithError(err).WithField("path", p).Warn("walk error")
			return nil
		}
		if d.IsDir() || !l.isAllowed(p) {
			return nil
		}

		track, err := metadata.ReadTrack(p, l.info.Path)
		if err != nil {
			l.logger.WithError(err).WithField("path", p).Warn("metadata error")
			return nil
		}

		key := itemKey(l.info.MediaType, track.RelPath)
		groups[key] = append(groups[key], track)
		return nil
	})
	if err != nil {
		metrics.ObserveScan(l.info.ID, start, 0, err)
		return err
	}

	items := make([]*models.LibraryItem, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for key, tracks := range groups {
		item := metadata.BuildItem(l.info, key, tracks, l.prefixes)
		seen[item.ID] = true
		items = append(items, item)
	}

	l.mu.RLock()
	for _, prev := range l.items {
		if !seen[prev.ID] {
			missing := *prev
			missing.IsMissing = true
			items = append(items, &missing)
		}
	}
	l.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].RelPath < items[j].RelPath
	})

	byID := make(map[string]*models.LibraryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	l.mu.Lock()
	l.items = items
	l.byID = byID
	l.mu.Unlock()

	metrics.ObserveScan(l.info.ID, start, len(items), nil)
	l.logger.WithFields(logrus.Fields{
		"library": l.info.ID,
		"items":   len(items),
	}).Info("library refreshed")

	if l.onRefresh != nil {
		l.onRefresh(l.Snapshot())
	}
	return nil
}

// itemKey maps a track to the item it belongs to. Books are folders (disc
// folders fold into their parent); podcasts are top-level folders. Loose
// files at the library root are items of their own.
func itemKey(mediaType, relPath string) string {
	dir := path.Dir(relPath)
	if dir == "." {
		return relPath
	}
	if mediaType == models.MediaTypePodcast {
		top, _, _ := strings.Cut(relPath, "/")
		return top
	}
	if discPattern.MatchString(path.Base(dir)) && path.Dir(dir) != "." {
		return path.Dir(dir)
	}
	return dir
}

func (l *Library) run() {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Warn("watcher error")
		case <-l.done:
			return
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	created := event.Op&fsnotify.Create == fsnotify.Create
	if created {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			l.addWatchRecursive(event.Name)
			l.scheduleRefresh()
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		if l.isAllowed(event.Name) || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			l.scheduleRefresh()
		}
	}
}

func (l *Library) scheduleRefresh() {
	select {
	case <-l.done:
		return
	default:
	}

	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	if l.refreshTimer != nil {
		l.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.refreshDelay, func() {
		if err := l.Refresh(); err != nil {
			l.logger.WithError(err).WithField("library", l.info.ID).Error("refresh failed")
		}

		l.refreshMu.Lock()
		if l.refreshTimer == timer {
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()
	})

	l.refreshTimer = timer
}

func (l *Library) addWatchRecursive(root string) {
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			l.logger.WithError(err).WithField("path", p).Warn("walk error")
			return nil
		}

		if d.IsDir() {
			if err := l.watcher.Add(p); err != nil {
				l.logger.WithError(err).WithField("path", p).Warn("watcher add failure")
			}
		}
		return nil
	})
}

func (l *Library) isAllowed(p string) bool {
	_, ok := l.allowed[strings.ToLower(filepath.Ext(p))]
	return ok
}
