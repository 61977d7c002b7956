package segmenter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Entry is a segment listed in a playlist.
type Entry struct {
	Index    uint64  `json:"index"`
	Duration float64 `json:"duration"`
	URI      string  `json:"uri"`
}

// Entries returns the closed segments a playlist of type t lists, oldest first.
// Event playlists list every segment since the start of the session, the others
// start at the oldest advertised segment.
func (s *Segmenter) Entries(t PlaylistType, baseURL string) []Entry {
	first := s.segmentSequence
	if t == Event {
		first = 0
	}

	entries := make([]Entry, 0, s.segmentIndex-first)
	for i := first; i < s.segmentIndex; i++ {
		entries = append(entries, Entry{
			Index:    i,
			Duration: s.ledger.Get(i),
			URI:      baseURL + s.segmentName(i),
		})
	}
	return entries
}

// Render returns the playlist describing the closed segments.
// VOD playlists are only rendered once final is true; before that Render returns
// an empty string. Live playlists never contain #EXT-X-ENDLIST.
func (s *Segmenter) Render(t PlaylistType, baseURL string, final bool) string {
	if t == VOD && !final {
		return ""
	}

	var mediaSequence uint64
	if t == Live {
		mediaSequence = s.segmentSequence
	}

	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", roundDuration(s.ledger.MaxDuration())))
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence))

	switch t {
	case VOD:
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	case Event:
		b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	}

	for _, e := range s.Entries(t, baseURL) {
		b.WriteString(fmt.Sprintf("#EXTINF:%d,\n", roundDuration(e.Duration)))
		b.WriteString(e.URI)
		b.WriteString("\n")
	}

	if final && t != Live {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// WritePlaylist renders the playlist and writes it into FileBase/name.
// The file is replaced atomically. It returns false when there was nothing to write.
func (s *Segmenter) WritePlaylist(name string, t PlaylistType, baseURL string, final bool) (bool, error) {
	content := s.Render(t, baseURL, final)
	if content == "" {
		return false, nil
	}

	path := filepath.Join(s.conf.FileBase, name)

	err := writeFileAtomic(path, []byte(content))
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrFileWrite, path, err)
	}

	return true, nil
}

// roundDuration rounds seconds to the nearest integer, half away from zero.
func roundDuration(d float64) int64 {
	return int64(math.Round(d))
}

func writeFileAtomic(path string, content []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, "."+base+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, err = f.Write(content)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	err = f.Close()
	if err != nil {
		os.Remove(tmp)
		return err
	}

	err = os.Chmod(tmp, 0o644)
	if err != nil {
		os.Remove(tmp)
		return err
	}

	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}
