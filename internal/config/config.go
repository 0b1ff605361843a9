package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"home-library/internal/models"
)

var allowedExtensions = []string{
	".mp3",
	".m4a",
	".m4b",
	".aac",
	".flac",
	".ogg",
	".opus",
}

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultRefreshDebounceMS = 500
	defaultLocale            = "en"
	defaultSearchLimit       = 12
	defaultFeedTitle         = "Home Library"
	defaultFeedDescription   = "Private audiobook feed generated from the local library."
	defaultFeedLanguage      = "en"
	defaultLibraryID         = "main"
)

var defaultPrefixes = []string{"the", "a"}

// AllowedExtensions returns the list of supported audio file extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// ResolveMediaRoot returns the directory that holds the library folders.
// The directory is created when it does not yet exist.
func ResolveMediaRoot() (string, error) {
	dir := strings.TrimSpace(os.Getenv("LIBRARY_MEDIA_DIR"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cwd, "media")
	}

	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}

	return abs, nil
}

// ListenAddr returns the TCP address the HTTP server should bind to.
func ListenAddr() string {
	addr := strings.TrimSpace(os.Getenv("LIBRARY_LISTEN_ADDR"))
	if addr == "" {
		return defaultListenAddr
	}
	return addr
}

// RefreshDebounce returns the duration to wait before rescanning a library
// after file-system change events.
func RefreshDebounce() time.Duration {
	value := strings.TrimSpace(os.Getenv("LIBRARY_REFRESH_DEBOUNCE_MS"))
	if value == "" {
		return time.Duration(defaultRefreshDebounceMS) * time.Millisecond
	}

	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return time.Duration(defaultRefreshDebounceMS) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// LogLevel returns the configured logrus level, defaulting to info.
func LogLevel() logrus.Level {
	value := strings.TrimSpace(os.Getenv("LIBRARY_LOG_LEVEL"))
	if value == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(value)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// ResolveTokenFile returns the absolute path to the access token file when
// configured. The file is created if it does not already exist. When no file
// is configured the second return value will be false.
func ResolveTokenFile() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("LIBRARY_TOKEN_FILE"))
	if path == "" {
		return "", false, nil
	}

	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return "", false, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", false, err
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o600)
			if err != nil {
				return "", false, err
			}
			if err := file.Close(); err != nil {
				return "", false, err
			}
		} else {
			return "", false, err
		}
	}

	return abs, true, nil
}

// DatabasePath returns the SQLite database location when one is configured.
func DatabasePath() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("LIBRARY_DB_PATH"))
	if path == "" {
		return "", false, nil
	}
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return "", false, err
	}
	return abs, true, nil
}

// FeedMetadata is the channel-level metadata of every generated RSS feed.
type FeedMetadata struct {
	Title       string
	Description string
	Language    string
	Author      string
}

// Settings are the query options shared by every library.
type Settings struct {
	IgnorePrefix bool
	Prefixes     []string
	Locale       string
	SearchLimit  int
}

// File is the resolved content of the LIBRARY_CONFIG file plus defaults.
type File struct {
	Libraries []models.Library
	Settings  Settings
	Feed      FeedMetadata
}

type fileYAML struct {
	Libraries []models.Library `yaml:"libraries"`
	Settings  struct {
		IgnorePrefix bool     `yaml:"ignorePrefix"`
		Prefixes     []string `yaml:"prefixes"`
		Locale       string   `yaml:"locale"`
		SearchLimit  int      `yaml:"searchLimit"`
	} `yaml:"settings"`
	Feed struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Language    string `yaml:"language"`
		Author      string `yaml:"author"`
	} `yaml:"feed"`
}

// Load resolves libraries, settings and feed metadata after applying
// defaults, the YAML file named by LIBRARY_CONFIG (when set), and environment
// variable overrides. Relative library paths are resolved against mediaRoot.
// Without configured libraries a single book library rooted at mediaRoot is
// returned.
func Load(mediaRoot string) (File, error) {
	cfg := File{
		Settings: Settings{
			Prefixes:    append([]string(nil), defaultPrefixes...),
			Locale:      defaultLocale,
			SearchLimit: defaultSearchLimit,
		},
		Feed: FeedMetadata{
			Title:       defaultFeedTitle,
			Description: defaultFeedDescription,
			Language:    defaultFeedLanguage,
		},
	}

	configPath := strings.TrimSpace(os.Getenv("LIBRARY_CONFIG"))
	if configPath != "" {
		resolved, err := filepath.Abs(expandHome(configPath))
		if err != nil {
			return File{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return File{}, err
		}
		var raw fileYAML
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return File{}, fmt.Errorf("parse %s: %w", resolved, err)
		}

		cfg.Libraries = raw.Libraries
		cfg.Settings.IgnorePrefix = raw.Settings.IgnorePrefix
		if len(raw.Settings.Prefixes) > 0 {
			cfg.Settings.Prefixes = raw.Settings.Prefixes
		}
		if value := strings.TrimSpace(raw.Settings.Locale); value != "" {
			cfg.Settings.Locale = value
		}
		if raw.Settings.SearchLimit > 0 {
			cfg.Settings.SearchLimit = raw.Settings.SearchLimit
		}
		if value := strings.TrimSpace(raw.Feed.Title); value != "" {
			cfg.Feed.Title = value
		}
		if value := strings.TrimSpace(raw.Feed.Description); value != "" {
			cfg.Feed.Description = value
		}
		if value := strings.TrimSpace(raw.Feed.Language); value != "" {
			cfg.Feed.Language = value
		}
		if value := strings.TrimSpace(raw.Feed.Author); value != "" {
			cfg.Feed.Author = value
		}
	}

	if value := strings.TrimSpace(os.Getenv("LIBRARY_FEED_TITLE")); value != "" {
		cfg.Feed.Title = value
	}
	if value := strings.TrimSpace(os.Getenv("LIBRARY_FEED_AUTHOR")); value != "" {
		cfg.Feed.Author = value
	}

	if len(cfg.Libraries) == 0 {
		cfg.Libraries = []models.Library{{
			ID:        defaultLibraryID,
			Name:      "Library",
			Path:      mediaRoot,
			MediaType: models.MediaTypeBook,
		}}
	}

	seen := make(map[string]bool, len(cfg.Libraries))
	for i := range cfg.Libraries {
		lib := &cfg.Libraries[i]
		lib.ID = strings.TrimSpace(lib.ID)
		if lib.ID == "" {
			return File{}, fmt.Errorf("library %d: missing id", i)
		}
		if seen[lib.ID] {
			return File{}, fmt.Errorf("library %q: duplicate id", lib.ID)
		}
		seen[lib.ID] = true

		if lib.Name == "" {
			lib.Name = lib.ID
		}
		switch lib.MediaType {
		case "":
			lib.MediaType = models.MediaTypeBook
		case models.MediaTypeBook, models.MediaTypePodcast:
		default:
			return File{}, fmt.Errorf("library %q: unknown media type %q", lib.ID, lib.MediaType)
		}

		path := expandHome(strings.TrimSpace(lib.Path))
		if path == "" {
			path = lib.ID
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(mediaRoot, path)
		}
		lib.Path = filepath.Clean(path)
	}

	return cfg, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
