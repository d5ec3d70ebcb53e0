package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AttemptRecord is one entry in the append-only download log. A job id maps to
// the ordered list of attempts made for it; the playlist URL of each attempt
// is what the segment inventory mines for historical filename prefixes after
// the origin rotates URLs.
type AttemptRecord struct {
	Name        string   `json:"name"`
	Actress     string   `json:"actress"`
	HashTag     []string `json:"hash_tag"`
	HLSURL      string   `json:"hls_url"`
	CoverURL    string   `json:"cover_url"`
	Src         string   `json:"src"`
	Status      string   `json:"status"`
	HasChinese  bool     `json:"has_chinese"`
	ReleaseDate string   `json:"release_date"`
	TimeLength  string   `json:"time_length"`
}

// DownloadInfo persists attempt records in a single JSON file. All mutation
// goes read-modify-rewrite under one mutex; the rewrite is atomic
// (write-to-temp + rename) so concurrent appends from different job drivers
// never lose entries or tear the file.
type DownloadInfo struct {
	path string
	mu   sync.Mutex
}

func NewDownloadInfo(path string) *DownloadInfo {
	return &DownloadInfo{path: path}
}

func (s *DownloadInfo) load() (map[string][]AttemptRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string][]AttemptRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading download info: %w", err)
	}
	records := map[string][]AttemptRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing download info: %w", err)
	}
	return records, nil
}

func (s *DownloadInfo) write(records map[string][]AttemptRecord) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".download_info-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Append adds a new attempt record under the job's lowercased id.
func (s *DownloadInfo) Append(jobID string, record AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return err
	}
	id := strings.ToLower(jobID)
	records[id] = append(records[id], record)
	return s.write(records)
}

// LatestPlaylistURL returns the playlist URL of the most recent attempt, or
// false when the job has no recorded history.
func (s *DownloadInfo) LatestPlaylistURL(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return "", false
	}
	attempts := records[strings.ToLower(jobID)]
	if len(attempts) == 0 {
		return "", false
	}
	return attempts[len(attempts)-1].HLSURL, true
}

// Attempts returns the recorded attempts for a job, oldest first.
func (s *DownloadInfo) Attempts(jobID string) ([]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	return records[strings.ToLower(jobID)], nil
}

// Records returns the full log, used by the sender catalog.
func (s *DownloadInfo) Records() (map[string][]AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}
