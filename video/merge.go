package video

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/store"
)

const copyBlockSize = 1024 * 1024

// Merger concatenates the decrypted segments of a finished job into the final
// container. The ffmpeg backend drives the concat demuxer with copy codecs;
// the in-process backend appends raw transport streams, which every player we
// care about accepts as an .mp4-named TS file just like the origin serves it.
type Merger struct {
	tmp       store.TempStore
	videoDir  string
	useFFmpeg bool
}

func NewMerger(tmp store.TempStore, videoDir string, useFFmpeg bool) Merger {
	return Merger{tmp: tmp, videoDir: videoDir, useFFmpeg: useFFmpeg}
}

// Merge produces <videoDir>/<finalName> from the job's segment directory and
// returns the output path. The output is first written under the lowercased
// job id and renamed on success, so a half-written container never carries the
// final name.
func (m Merger) Merge(jobID string, playlist *m3u8.MediaPlaylist, finalName string) (string, error) {
	workPath := filepath.Join(m.videoDir, strings.ToLower(jobID)+".mp4")

	var err error
	if m.useFFmpeg {
		err = m.mergeWithFFmpeg(jobID, playlist, workPath)
	} else {
		err = m.mergeRaw(jobID, workPath)
	}
	if err != nil {
		return "", err
	}

	finalPath := filepath.Join(m.videoDir, finalName)
	if err := os.Rename(workPath, finalPath); err != nil {
		return "", errors.MergeFailed(fmt.Errorf("renaming output: %w", err))
	}
	log.Log(jobID, "merge complete", "output", finalPath)
	return finalPath, nil
}

// mergeWithFFmpeg writes the concat-demuxer list file in playlist order and
// shells out with copy codecs.
func (m Merger) mergeWithFFmpeg(jobID string, playlist *m3u8.MediaPlaylist, outPath string) error {
	listPath := m.tmp.MergeListPath(jobID)
	if err := m.writeMergeList(jobID, playlist, listPath); err != nil {
		return err
	}

	var ffmpegErr bytes.Buffer
	err := ffmpeg.
		Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(outPath, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		WithErrorOutput(&ffmpegErr).
		Run()
	if err != nil {
		return errors.MergeFailed(fmt.Errorf("ffmpeg concat of %s [%s]: %w", listPath, ffmpegErr.String(), err))
	}
	return ProbeOutput(outPath)
}

func (m Merger) writeMergeList(jobID string, playlist *m3u8.MediaPlaylist, listPath string) error {
	segmentDir := m.tmp.SegmentDir(jobID)
	builder := &strings.Builder{}
	for _, segment := range AllSegments(playlist) {
		segmentPath, err := filepath.Abs(filepath.Join(segmentDir, path.Base(segment.URI)))
		if err != nil {
			return errors.MergeFailed(err)
		}
		if _, err := os.Stat(segmentPath); err != nil {
			log.Log(jobID, "segment file missing from merge list", "file", segmentPath)
			continue
		}
		quoted, err := quoteConcatPath(segmentPath)
		if err != nil {
			return errors.MergeFailed(err)
		}
		builder.WriteString("file " + quoted + "\n")
	}
	if err := os.WriteFile(listPath, []byte(builder.String()), 0644); err != nil {
		return errors.MergeFailed(err)
	}
	return nil
}

// quoteConcatPath quotes a path for the concat demuxer's list format. Single
// quotes can't appear inside a quoted string, so the path is split around
// them ('\'' idiom). The demuxer has no escape for newlines at all, so those
// paths are rejected outright.
func quoteConcatPath(p string) (string, error) {
	if strings.ContainsAny(p, "\n\r") {
		return "", fmt.Errorf("segment path %q contains a newline, cannot be written to a concat list", p)
	}
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'", nil
}

// mergeRaw concatenates the on-disk segments by trailing numeric index with
// 1 MiB block copies, skipping anything that fails the length check.
func (m Merger) mergeRaw(jobID, outPath string) error {
	segmentDir := m.tmp.SegmentDir(jobID)
	entries, err := os.ReadDir(segmentDir)
	if err != nil {
		return errors.MergeFailed(err)
	}

	type tsFile struct {
		name  string
		index int
	}
	var files []tsFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return errors.MergeFailed(err)
		}
		if IsCorrupt(fi.Size()) {
			log.Log(jobID, "skipping corrupt segment during merge", "file", entry.Name(), "size", fi.Size())
			continue
		}
		index, ok := trailingIndex(entry.Name())
		if !ok {
			log.Log(jobID, "skipping segment with no trailing index", "file", entry.Name())
			continue
		}
		files = append(files, tsFile{name: entry.Name(), index: index})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].index < files[b].index })

	out, err := os.Create(outPath)
	if err != nil {
		return errors.MergeFailed(err)
	}
	defer out.Close()

	buf := make([]byte, copyBlockSize)
	for _, f := range files {
		if err := appendFile(out, filepath.Join(segmentDir, f.name), buf); err != nil {
			return errors.MergeFailed(err)
		}
	}
	return nil
}

func appendFile(out *os.File, path string, buf []byte) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.CopyBuffer(out, in, buf)
	return err
}

// trailingIndex parses the decimal digits at the end of the filename stem.
func trailingIndex(filename string) (int, bool) {
	stem := strings.TrimSuffix(filename, ".ts")
	start := len(stem)
	for start > 0 && stem[start-1] >= '0' && stem[start-1] <= '9' {
		start--
	}
	if start == len(stem) {
		return 0, false
	}
	index, err := strconv.Atoi(stem[start:])
	if err != nil {
		return 0, false
	}
	return index, true
}
