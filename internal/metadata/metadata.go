// Package metadata reads audio files and folds them into library items.
package metadata

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// Tags holds the descriptive fields read from an audio file.
type Tags struct {
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Composer    string
	Genre       string
	Comment     string
	Year        int
	Track       int
}

// Track is one audio file of a library item.
type Track struct {
	Path     string
	RelPath  string
	Size     int64
	ModTime  time.Time
	Tags     Tags
	Duration float64
	// Undecodable is set for mp3 files whose frames could not be read.
	Undecodable bool
}

// ReadTrack stats path, reads its tags and, for mp3 files, its duration.
// RelPath is relative to root and uses forward slashes.
func ReadTrack(path, root string) (Track, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Track{}, err
	}

	relative, err := filepath.Rel(root, path)
	if err != nil {
		relative = filepath.Base(path)
	}

	track := Track{
		Path:    path,
		RelPath: filepath.ToSlash(relative),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC().Round(time.Second),
		Tags:    readTags(path),
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		dur, err := computeMP3Duration(path)
		if err != nil || dur <= 0 {
			track.Undecodable = true
		} else {
			track.Duration = dur
		}
	}

	return track, nil
}

// Stem is the file name without its extension.
func (t Track) Stem() string {
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readTags(path string) Tags {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return Tags{}
	}

	track, _ := meta.Track()
	return Tags{
		Title:       strings.TrimSpace(meta.Title()),
		Artist:      strings.TrimSpace(meta.Artist()),
		AlbumArtist: strings.TrimSpace(meta.AlbumArtist()),
		Album:       strings.TrimSpace(meta.Album()),
		Composer:    strings.TrimSpace(meta.Composer()),
		Genre:       strings.TrimSpace(meta.Genre()),
		Comment:     strings.TrimSpace(meta.Comment()),
		Year:        meta.Year(),
		Track:       track,
	}
}

func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}
