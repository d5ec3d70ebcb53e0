package video

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/store"
)

// ErrMissingSegmentDir is returned when the job's segment directory does not
// exist; the job driver treats this as a cold start.
var ErrMissingSegmentDir = errors.New("segment directory does not exist")

const aesBlockSize = 16

// Inventory computes which playlist segments still need fetching. A segment
// counts as downloaded only when a valid decrypted file for its index exists
// on disk; anything corrupt, absent or ambiguous stays pending.
type Inventory struct {
	info *store.DownloadInfo
	tmp  store.TempStore
}

func NewInventory(info *store.DownloadInfo, tmp store.TempStore) Inventory {
	return Inventory{info: info, tmp: tmp}
}

// IsCorrupt reports whether a segment file length can not be the output of
// AES-CBC decryption. A crash between the ciphertext write and the plaintext
// rewrite can't produce a valid length either, so this check doubles as the
// resume-safety test.
func IsCorrupt(size int64) bool {
	return size <= 0 || size%aesBlockSize != 0
}

// Pending returns the ordered sub-list of playlist segments whose decrypted
// file is absent or corrupt.
func (inv Inventory) Pending(jobID string, playlist *m3u8.MediaPlaylist) ([]*m3u8.MediaSegment, error) {
	segments := AllSegments(playlist)
	if len(segments) == 0 {
		return nil, nil
	}

	dir := inv.tmp.SegmentDir(jobID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissingSegmentDir, dir)
	}

	prefixes, err := inv.segmentPrefixes(jobID, segments)
	if err != nil {
		return nil, err
	}

	downloaded, err := downloadedIndexes(jobID, dir, prefixes)
	if err != nil {
		return nil, err
	}

	var pending []*m3u8.MediaSegment
	for i, segment := range segments {
		if _, ok := downloaded[i]; ok {
			continue
		}
		pending = append(pending, segment)
	}
	return pending, nil
}

// segmentPrefixes gathers the candidate filename prefixes, oldest attempt
// first. Each recorded playlist URL contributes its leaf (sans .m3u8) and its
// parent path component; without history, the first segment URI's trailing
// "0.ts" is stripped instead.
func (inv Inventory) segmentPrefixes(jobID string, segments []*m3u8.MediaSegment) ([]string, error) {
	attempts, err := inv.info.Attempts(jobID)
	if err != nil {
		return nil, err
	}

	if len(attempts) == 0 {
		leaf := path.Base(segments[0].URI)
		prefix := strings.TrimSuffix(leaf, "0.ts")
		log.Log(jobID, "no recorded attempts, deriving segment prefix from playlist", "prefix", prefix)
		return []string{prefix}, nil
	}

	var prefixes []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			prefixes = append(prefixes, p)
		}
	}
	for _, attempt := range attempts {
		parts := strings.Split(attempt.HLSURL, "/")
		leaf := strings.TrimSuffix(parts[len(parts)-1], ".m3u8")
		add(leaf)
		if len(parts) >= 2 {
			add(parts[len(parts)-2])
		}
	}
	return prefixes, nil
}

// downloadedIndexes scans the segment directory and maps filenames back to
// playlist positions. Files failing the length check are skipped; an index
// claimed by more than one file is dropped entirely and the slot re-fetched.
func downloadedIndexes(jobID, dir string, prefixes []string) (map[int]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	counts := map[int]int{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return nil, err
		}
		if IsCorrupt(fi.Size()) {
			log.Log(jobID, "segment file failed length check, treating as missing", "file", entry.Name(), "size", fi.Size())
			continue
		}
		if index, ok := matchIndex(entry.Name(), prefixes); ok {
			counts[index]++
		}
	}

	downloaded := make(map[int]struct{}, len(counts))
	for index, n := range counts {
		if n > 1 {
			// Two historical prefixes produced the same index. We can't tell
			// which file belongs to the current playlist, so the slot stays
			// pending.
			log.Log(jobID, "segment index claimed by multiple prefixes, re-fetching", "index", index)
			continue
		}
		downloaded[index] = struct{}{}
	}
	return downloaded, nil
}

// matchIndex extracts the decimal index that follows the first matching
// prefix. Prefixes are checked in recorded order; the first match wins.
func matchIndex(filename string, prefixes []string) (int, bool) {
	stem := strings.TrimSuffix(filename, ".ts")
	for _, prefix := range prefixes {
		if !strings.HasPrefix(stem, prefix) {
			continue
		}
		index, err := strconv.Atoi(stem[len(prefix):])
		if err != nil {
			continue
		}
		return index, true
	}
	return 0, false
}

// AllSegments unrolls the playlist's segment ring buffer; the list ends at the
// first nil element.
func AllSegments(playlist *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	var segments []*m3u8.MediaSegment
	for _, segment := range playlist.Segments {
		if segment == nil {
			break
		}
		segments = append(segments, segment)
	}
	return segments
}
