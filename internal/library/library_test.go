package library

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"home-library/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openLibrary(t *testing.T, root, mediaType string, exts ...string) *Library {
	t.Helper()
	lib, err := New(models.Library{ID: "lib", Name: "Lib", Path: root, MediaType: mediaType}, Options{
		Extensions: exts,
		Debounce:   10 * time.Millisecond,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := lib.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return lib
}

func writeAudio(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func present(items []*models.LibraryItem) int {
	n := 0
	for _, item := range items {
		if !item.IsMissing {
			n++
		}
	}
	return n
}

func findByRelPath(items []*models.LibraryItem, rel string) *models.LibraryItem {
	for _, item := range items {
		if item.RelPath == rel {
			return item
		}
	}
	return nil
}

func TestLibraryWatchesAndRefreshes(t *testing.T) {
	root := t.TempDir()
	writeAudio(t, filepath.Join(root, "Initial.m4a"), "one")

	lib := openLibrary(t, root, models.MediaTypeBook, ".m4a")
	if got := len(lib.Snapshot()); got != 1 {
		t.Fatalf("initial scan found %d items, want 1", got)
	}

	writeAudio(t, filepath.Join(root, "Second.m4a"), "two")
	waitFor(t, func() bool { return present(lib.Snapshot()) == 2 }, "detect second file")

	subdir := filepath.Join(root, "Author", "Book")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	writeAudio(t, filepath.Join(subdir, "01.m4a"), "three")
	writeAudio(t, filepath.Join(subdir, "02.m4a"), "four")
	waitFor(t, func() bool {
		book := findByRelPath(lib.Snapshot(), "Author/Book")
		return book != nil && book.Media.NumTracks == 2
	}, "detect nested book")

	if err := os.Remove(filepath.Join(root, "Second.m4a")); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	waitFor(t, func() bool {
		item := findByRelPath(lib.Snapshot(), "Second.m4a")
		return item != nil && item.IsMissing
	}, "flag removed item missing")

	items := lib.Snapshot()
	items[0] = nil
	if lib.Snapshot()[0] == nil {
		t.Fatalf("expected Snapshot to return a defensive copy")
	}
}

func TestLibraryGroupsTracksIntoItems(t *testing.T) {
	root := t.TempDir()
	writeAudio(t, filepath.Join(root, "Frank Herbert", "Dune Chronicles", "01 - Dune", "CD1", "a.flac"), "a")
	writeAudio(t, filepath.Join(root, "Frank Herbert", "Dune Chronicles", "01 - Dune", "CD2", "b.flac"), "b")
	writeAudio(t, filepath.Join(root, "Loose.flac"), "c")
	writeAudio(t, filepath.Join(root, "notes.txt"), "text")

	lib := openLibrary(t, root, models.MediaTypeBook, ".flac")

	items := lib.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	dune := findByRelPath(items, "Frank Herbert/Dune Chronicles/01 - Dune")
	if dune == nil {
		t.Fatalf("disc folders should fold into the book folder: %+v", items)
	}
	if dune.Media.NumTracks != 2 || dune.Media.Metadata.Title != "Dune" {
		t.Fatalf("unexpected book %+v", dune.Media)
	}
	if len(dune.Media.Metadata.Series) != 1 || dune.Media.Metadata.Series[0].Sequence != "01" {
		t.Fatalf("unexpected series %+v", dune.Media.Metadata.Series)
	}

	got, ok := lib.Item(dune.ID)
	if !ok || got != dune {
		t.Fatalf("Item lookup failed")
	}
}

func TestLibraryPodcastFolders(t *testing.T) {
	root := t.TempDir()
	writeAudio(t, filepath.Join(root, "Show", "2024", "ep1.mp3"), "x")
	writeAudio(t, filepath.Join(root, "Show", "ep2.mp3"), "y")

	lib := openLibrary(t, root, models.MediaTypePodcast, ".mp3")

	items := lib.Snapshot()
	if len(items) != 1 {
		t.Fatalf("expected one podcast, got %d", len(items))
	}
	if got := len(items[0].Media.Episodes); got != 2 {
		t.Fatalf("expected 2 episodes, got %d", got)
	}
}

func TestLibraryIgnoresNonAudioFiles(t *testing.T) {
	root := t.TempDir()
	writeAudio(t, filepath.Join(root, "notes.txt"), "text")
	writeAudio(t, filepath.Join(root, "book.m4b"), "audio")

	lib := openLibrary(t, root, models.MediaTypeBook, ".m4b")
	if len(lib.Snapshot()) != 1 {
		t.Fatalf("expected 1 item, got %d", len(lib.Snapshot()))
	}

	writeAudio(t, filepath.Join(root, "readme.md"), "doc")
	time.Sleep(100 * time.Millisecond)

	if len(lib.Snapshot()) != 1 {
		t.Fatalf("expected still 1 item, got %d", len(lib.Snapshot()))
	}
}

func TestLibraryEmptyDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "created")

	lib := openLibrary(t, root, models.MediaTypeBook, ".m4b")
	if len(lib.Snapshot()) != 0 {
		t.Fatalf("expected 0 items for empty dir, got %d", len(lib.Snapshot()))
	}

	writeAudio(t, filepath.Join(root, "new.m4b"), "audio")
	waitFor(t, func() bool { return len(lib.Snapshot()) == 1 }, "detect new file")
}

func TestLibraryOnRefreshCallback(t *testing.T) {
	root := t.TempDir()
	writeAudio(t, filepath.Join(root, "a.m4b"), "audio")

	var mu sync.Mutex
	var calls []int
	lib, err := New(models.Library{ID: "lib", Path: root, MediaType: models.MediaTypeBook}, Options{
		Extensions: []string{".m4b"},
		Debounce:   10 * time.Millisecond,
		Logger:     quietLogger(),
		OnRefresh: func(items []*models.LibraryItem) {
			mu.Lock()
			calls = append(calls, len(items))
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = lib.Close() })

	mu.Lock()
	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("expected initial callback with 1 item, got %v", calls)
	}
	mu.Unlock()

	writeAudio(t, filepath.Join(root, "b.m4b"), "audio")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) > 1 && calls[len(calls)-1] == 2
	}, "callback after rescan")
}

func TestItemKey(t *testing.T) {
	cases := []struct {
		mediaType string
		rel       string
		want      string
	}{
		{models.MediaTypeBook, "Loose.mp3", "Loose.mp3"},
		{models.MediaTypeBook, "Author/Book/01.mp3", "Author/Book"},
		{models.MediaTypeBook, "Author/Book/Disc 2/01.mp3", "Author/Book"},
		{models.MediaTypeBook, "CD1/01.mp3", "CD1"},
		{models.MediaTypePodcast, "Show/2024/ep.mp3", "Show"},
		{models.MediaTypePodcast, "ep.mp3", "ep.mp3"},
	}
	for _, tc := range cases {
		if got := itemKey(tc.mediaType, tc.rel); got != tc.want {
			t.Fatalf("itemKey(%s, %q) = %q, want %q", tc.mediaType, tc.rel, got, tc.want)
		}
	}
}

func waitFor(t *testing.T, predicate func() bool, label string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", label)
}
