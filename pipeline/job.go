package pipeline

import (
	"strings"
	"sync"

	"github.com/vodloop/hlsfetch/store"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusDownloading Status = "DOWNLOADING"
	StatusMerging     Status = "MERGING"
	StatusFinished    Status = "FINISHED"
	StatusFailed      Status = "FAILED"
)

// Job is one download task. The JSON shape matches the jobs file and the
// per-attempt records in the download log; status is runtime state only,
// mutated by the driver goroutine while the sender reads it, so access goes
// through the mutex.
type Job struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Actress     string   `json:"actress"`
	HashTag     []string `json:"hash_tag"`
	HLSURL      string   `json:"hls_url"`
	CoverURL    string   `json:"cover_url"`
	Src         string   `json:"src"`
	HasChinese  bool     `json:"has_chinese"`
	ReleaseDate string   `json:"release_date"`
	TimeLength  string   `json:"time_length"`

	mu     sync.RWMutex
	status Status
}

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) SetStatus(status Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
}

// Update points the job at a rotated playlist URL handed in by the external
// scraper after it re-crawls the page. Call it between driver runs only; a
// running driver reads HLSURL without locking.
func (j *Job) Update(playlistURL string) {
	j.HLSURL = playlistURL
}

// FinalName is the output container filename: upper-cased id, title and
// actress. Path separators in scraped titles are flattened so the name can
// never escape the video directory.
func (j *Job) FinalName() string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, "/", " "))
	}
	parts := []string{strings.ToUpper(j.ID)}
	if name := clean(j.Name); name != "" {
		parts = append(parts, name)
	}
	if actress := clean(j.Actress); actress != "" {
		parts = append(parts, actress)
	}
	return strings.Join(parts, " ") + ".mp4"
}

// CoverName is the cover image filename, keyed by lowercased id.
func (j *Job) CoverName() string {
	return strings.ToLower(j.ID) + ".jpg"
}

// AttemptRecord snapshots the job's metadata for the download log. The
// playlist fetcher fills in HLSURL with whatever URL actually served the
// playlist.
func (j *Job) AttemptRecord() store.AttemptRecord {
	return store.AttemptRecord{
		Name:        j.Name,
		Actress:     j.Actress,
		HashTag:     j.HashTag,
		CoverURL:    j.CoverURL,
		Src:         j.Src,
		Status:      string(j.Status()),
		HasChinese:  j.HasChinese,
		ReleaseDate: j.ReleaseDate,
		TimeLength:  j.TimeLength,
	}
}

// Equal reports whether two jobs describe the same download, ignoring runtime
// state and scraped extras that don't affect the output.
func (j *Job) Equal(other *Job) bool {
	if other == nil {
		return false
	}
	return strings.EqualFold(j.ID, other.ID) &&
		j.Name == other.Name &&
		j.Actress == other.Actress &&
		j.HLSURL == other.HLSURL &&
		j.CoverURL == other.CoverURL &&
		j.Src == other.Src
}
