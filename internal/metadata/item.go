package metadata

import (
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"home-library/internal/models"
	"home-library/internal/natural"
)

// Namespaces for deterministic ids. The same name always maps to the same id,
// so rescans and restarts keep references stable.
var (
	itemNamespace    = uuid.NewSHA1(uuid.NameSpaceURL, []byte("home-library/item"))
	episodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("home-library/episode"))
	authorNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("home-library/author"))
	seriesNamespace  = uuid.NewSHA1(uuid.NameSpaceURL, []byte("home-library/series"))
)

// "01 - Title", "Book 2. Title", "Vol 3 Title"
var sequencePattern = regexp.MustCompile(`(?i)^(?:(?:vol(?:ume)?|book)\.?\s*)?(\d+(?:\.\d+)?)\s*(?:[-.:_]\s*|\s+)(\S.*)$`)

// ItemID derives the id of the item at relPath inside a library.
func ItemID(libraryID, relPath string) string {
	return uuid.NewSHA1(itemNamespace, []byte(libraryID+"/"+relPath)).String()
}

// AuthorID derives an author id from a display name.
func AuthorID(name string) string {
	return uuid.NewSHA1(authorNamespace, []byte(normalizeName(name))).String()
}

// SeriesID derives a series id from a display name.
func SeriesID(name string) string {
	return uuid.NewSHA1(seriesNamespace, []byte(normalizeName(name))).String()
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// BuildItem folds the tracks found under relPath into one library item.
// relPath is the item folder, or the file itself for a single loose file.
// tracks must not be empty.
func BuildItem(lib models.Library, relPath string, tracks []Track, prefixes []string) *models.LibraryItem {
	tracks = append([]Track(nil), tracks...)
	sortTracks(tracks)

	first := tracks[0].Tags
	parts := strings.Split(relPath, "/")
	name := parts[len(parts)-1]
	if len(tracks) == 1 && tracks[0].RelPath == relPath {
		name = tracks[0].Stem()
	}

	item := &models.LibraryItem{
		ID:        ItemID(lib.ID, relPath),
		LibraryID: lib.ID,
		MediaType: lib.MediaType,
		Path:      filepath.Join(lib.Path, filepath.FromSlash(relPath)),
		RelPath:   relPath,
		AddedAt:   tracks[0].ModTime,
		UpdatedAt: tracks[0].ModTime,
	}

	undecodable := false
	for _, t := range tracks {
		item.Size += t.Size
		item.Media.Duration += t.Duration
		if t.ModTime.Before(item.AddedAt) {
			item.AddedAt = t.ModTime
		}
		if t.ModTime.After(item.UpdatedAt) {
			item.UpdatedAt = t.ModTime
		}
		undecodable = undecodable || t.Undecodable
	}
	item.Media.NumTracks = len(tracks)
	item.IsInvalid = undecodable && item.Media.Duration == 0

	meta := &item.Media.Metadata
	meta.Genres = splitNames(first.Genre)
	meta.Tags = append([]string(nil), meta.Genres...)
	meta.Description = first.Comment
	if first.Year > 0 {
		meta.PublishedYear = strconv.Itoa(first.Year)
	}

	switch lib.MediaType {
	case models.MediaTypePodcast:
		meta.Title = firstNonEmpty(first.Album, name)
		meta.Authors = authorRefs(firstNonEmpty(first.AlbumArtist, first.Artist))
		item.Media.Episodes = buildEpisodes(item.ID, tracks)
	default:
		buildBook(meta, parts, name, first, len(tracks) == 1)
		item.Media.AudioFiles = audioFiles(tracks)
	}

	meta.TitleIgnorePrefix = natural.StripPrefix(meta.Title, prefixes)
	return item
}

// buildBook fills book metadata from tags, falling back to the
// Author/Series/NN - Title folder layout.
func buildBook(meta *models.Metadata, parts []string, name string, first Tags, single bool) {
	inSeries := len(parts) >= 3
	folderTitle := name
	sequence := ""
	if m := sequencePattern.FindStringSubmatch(name); inSeries && m != nil {
		sequence, folderTitle = m[1], strings.TrimSpace(m[2])
	}

	title := first.Album
	if title == "" && single {
		title = first.Title
	}
	meta.Title = firstNonEmpty(title, folderTitle)

	author := firstNonEmpty(first.AlbumArtist, first.Artist)
	if author == "" && len(parts) >= 2 {
		author = parts[0]
	}
	meta.Authors = authorRefs(author)
	meta.Narrators = splitNames(first.Composer)

	if inSeries {
		seriesName := strings.TrimSpace(parts[len(parts)-2])
		meta.Series = []models.SeriesRef{{
			ID:       SeriesID(seriesName),
			Name:     seriesName,
			Sequence: sequence,
		}}
	}
}

func buildEpisodes(itemID string, tracks []Track) []models.Episode {
	episodes := make([]models.Episode, 0, len(tracks))
	for _, t := range tracks {
		ep := models.Episode{
			ID:            uuid.NewSHA1(episodeNamespace, []byte(itemID+"/"+t.RelPath)).String(),
			Title:         firstNonEmpty(t.Tags.Title, t.Stem()),
			Filename:      path.Base(t.RelPath),
			RelativePath:  t.RelPath,
			FilesizeBytes: t.Size,
			PublishedAt:   t.ModTime,
		}
		if t.Duration > 0 {
			d := t.Duration
			ep.DurationSeconds = &d
		}
		episodes = append(episodes, ep)
	}
	return episodes
}

func audioFiles(tracks []Track) []models.AudioFile {
	files := make([]models.AudioFile, 0, len(tracks))
	for _, t := range tracks {
		files = append(files, models.AudioFile{
			Filename:     path.Base(t.RelPath),
			RelativePath: t.RelPath,
			Size:         t.Size,
			Duration:     t.Duration,
		})
	}
	return files
}

// sortTracks orders by track number when both files carry one, then by path.
func sortTracks(tracks []Track) {
	sort.SliceStable(tracks, func(i, j int) bool {
		a, b := tracks[i].Tags.Track, tracks[j].Tags.Track
		if a > 0 && b > 0 && a != b {
			return a < b
		}
		return tracks[i].RelPath < tracks[j].RelPath
	})
}

func authorRefs(value string) []models.AuthorRef {
	names := splitNames(value)
	if len(names) == 0 {
		return nil
	}
	refs := make([]models.AuthorRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, models.AuthorRef{ID: AuthorID(n), Name: n})
	}
	return refs
}

// splitNames splits a tag holding several names or genres.
func splitNames(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == '&' || r == '/'
	})
	var out []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
