package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempStore hands out typed access to the four per-job temp artifacts: the
// playlist text, the raw key bytes, the IV hex text and the segment directory.
// Every path derives from the lowercased job id, so two jobs can never share
// an artifact.
type TempStore struct {
	tmpDir string
}

func NewTempStore(tmpDir string) TempStore {
	return TempStore{tmpDir: tmpDir}
}

func (t TempStore) PlaylistPath(jobID string) string {
	return filepath.Join(t.tmpDir, "m3u8", strings.ToLower(jobID)+".m3u8")
}

func (t TempStore) KeyPath(jobID string) string {
	return filepath.Join(t.tmpDir, "key", strings.ToLower(jobID)+".key")
}

func (t TempStore) IVPath(jobID string) string {
	return filepath.Join(t.tmpDir, "iv", strings.ToLower(jobID)+".iv")
}

func (t TempStore) SegmentDir(jobID string) string {
	return filepath.Join(t.tmpDir, "ts", strings.ToLower(jobID))
}

func (t TempStore) MergeListPath(jobID string) string {
	return filepath.Join(t.tmpDir, strings.ToLower(jobID)+".txt")
}

// InitDirs creates the artifact directories plus the job's segment directory.
func (t TempStore) InitDirs(jobID string) error {
	dirs := []string{
		filepath.Join(t.tmpDir, "m3u8"),
		filepath.Join(t.tmpDir, "key"),
		filepath.Join(t.tmpDir, "iv"),
		t.SegmentDir(jobID),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating temp dir %s: %w", dir, err)
		}
	}
	return nil
}

func (t TempStore) WritePlaylist(jobID, text string) error {
	return os.WriteFile(t.PlaylistPath(jobID), []byte(text), 0644)
}

func (t TempStore) ReadPlaylist(jobID string) (string, bool, error) {
	return readText(t.PlaylistPath(jobID))
}

func (t TempStore) WriteKey(jobID string, key []byte) error {
	return os.WriteFile(t.KeyPath(jobID), key, 0644)
}

func (t TempStore) ReadKey(jobID string) ([]byte, bool, error) {
	data, err := os.ReadFile(t.KeyPath(jobID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t TempStore) WriteIV(jobID, iv string) error {
	return os.WriteFile(t.IVPath(jobID), []byte(iv), 0644)
}

func (t TempStore) ReadIV(jobID string) (string, bool, error) {
	return readText(t.IVPath(jobID))
}

// WriteAll persists the playlist/key/iv triple for one playlist attempt.
func (t TempStore) WriteAll(jobID, playlist string, key []byte, iv string) error {
	if err := t.WritePlaylist(jobID, playlist); err != nil {
		return err
	}
	if err := t.WriteKey(jobID, key); err != nil {
		return err
	}
	return t.WriteIV(jobID, iv)
}

// Artifacts is a multi-artifact read with explicit absent markers, so callers
// can decide which writes are still needed instead of handling partial errors.
type Artifacts struct {
	Playlist    string
	HasPlaylist bool
	Key         []byte
	HasKey      bool
	IV          string
	HasIV       bool
}

func (t TempStore) LoadArtifacts(jobID string) (Artifacts, error) {
	var arts Artifacts
	var err error
	arts.Playlist, arts.HasPlaylist, err = t.ReadPlaylist(jobID)
	if err != nil {
		return Artifacts{}, err
	}
	arts.Key, arts.HasKey, err = t.ReadKey(jobID)
	if err != nil {
		return Artifacts{}, err
	}
	arts.IV, arts.HasIV, err = t.ReadIV(jobID)
	if err != nil {
		return Artifacts{}, err
	}
	return arts, nil
}

// Clean removes every temp artifact for the job: segment dir, key, iv,
// playlist cache and merge list. Called by the job driver on success only.
func (t TempStore) Clean(jobID string) error {
	if err := os.RemoveAll(t.SegmentDir(jobID)); err != nil {
		return err
	}
	for _, path := range []string{
		t.KeyPath(jobID),
		t.IVPath(jobID),
		t.PlaylistPath(jobID),
		t.MergeListPath(jobID),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func readText(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}
