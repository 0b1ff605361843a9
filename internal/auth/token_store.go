// Package auth loads access tokens from a watched file. A token line may
// restrict the token to a comma separated list of library ids:
//
//	s3cret
//	kids-token kids,podcasts
//
// Blank lines and lines starting with '#' are ignored.
package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Grant describes what a token may access. A nil Libraries set means every
// library.
type Grant struct {
	Libraries map[string]struct{}
}

// Allows reports whether the grant covers libraryID.
func (g Grant) Allows(libraryID string) bool {
	if g.Libraries == nil {
		return true
	}
	_, ok := g.Libraries[libraryID]
	return ok
}

// TokenStore keeps the current token grants in memory and reloads them when
// the backing file changes.
type TokenStore struct {
	file         string
	logger       *logrus.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration

	mu     sync.RWMutex
	grants map[string]Grant

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// NewTokenStore loads filePath and starts watching it.
func NewTokenStore(filePath string, debounce time.Duration, logger *logrus.Logger) (*TokenStore, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &TokenStore{
		file:         filepath.Clean(filePath),
		logger:       logger,
		watcher:      watcher,
		refreshDelay: debounce,
		grants:       make(map[string]Grant),
		done:         make(chan struct{}),
	}

	if err := s.reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(s.file)); err != nil {
		watcher.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// Close stops the file watcher and waits for it to exit.
func (s *TokenStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// IsValidToken reports whether token is known.
func (s *TokenStore) IsValidToken(token string) bool {
	_, ok := s.lookup(token)
	return ok
}

// CanAccess reports whether token is known and covers libraryID.
func (s *TokenStore) CanAccess(token, libraryID string) bool {
	grant, ok := s.lookup(token)
	return ok && grant.Allows(libraryID)
}

func (s *TokenStore) lookup(token string) (Grant, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Grant{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[token]
	return grant, ok
}

func (s *TokenStore) watch() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.file {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.scheduleReload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("token watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *TokenStore) scheduleReload() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.AfterFunc(s.refreshDelay, func() {
		if err := s.reload(); err != nil {
			s.logger.WithError(err).Error("token reload failed")
		}
	})
}

func (s *TokenStore) reload() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		s.logger.WithField("file", s.file).Warn("token file missing; no tokens loaded")
		data = nil
	}

	grants := ParseGrants(string(data))

	s.mu.Lock()
	s.grants = grants
	s.mu.Unlock()

	s.logger.WithField("tokens", len(grants)).Info("access tokens loaded")
	return nil
}

// ParseGrants reads the token file format.
func ParseGrants(content string) map[string]Grant {
	grants := make(map[string]Grant)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		token := fields[0]
		if len(fields) == 1 {
			grants[token] = Grant{}
			continue
		}

		libraries := make(map[string]struct{})
		for _, id := range strings.Split(strings.Join(fields[1:], ""), ",") {
			if id = strings.TrimSpace(id); id != "" {
				libraries[id] = struct{}{}
			}
		}
		grants[token] = Grant{Libraries: libraries}
	}
	return grants
}
