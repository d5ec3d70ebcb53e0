package config

import (
	"os"
	"path/filepath"
	"time"
)

var Version string

// Cli carries the whole engine configuration. It is constructed once in main
// and threaded through the component constructors; nothing mutates it after
// startup except the request headers, which the captcha collaborator refreshes
// through Headers.SetCookie.
type Cli struct {
	DownloadDir string
	TmpDir      string
	LogDir      string
	AssetsDir   string
	ConfDir     string

	JobsFile   string
	SenderAddr string

	// ProxyURL is an optional HTTP proxy for all origin traffic. Empty
	// disables proxying.
	ProxyURL string

	// MaxJobs bounds concurrently running job drivers (C_job).
	MaxJobs int
	// MaxSegmentConcurrency bounds in-flight segment GETs per job (C_ts).
	MaxSegmentConcurrency int
	// MaxRetries is the per-request attempt budget (R).
	MaxRetries int
	// RetryWaitTime is the backoff base; attempt k waits RetryWaitTime * 2^k.
	RetryWaitTime time.Duration
	// ControlTimeout applies to playlist/key/cover requests. Segment requests
	// get SegmentTimeout, which is sized for multi-megabyte bodies.
	ControlTimeout time.Duration
	SegmentTimeout time.Duration

	// UseFFmpeg selects the external concat-demuxer merge backend over the
	// in-process raw append.
	UseFFmpeg bool

	// NotFoundLimit is how many playlist 404s we tolerate before giving up.
	NotFoundLimit int
}

func DefaultCli() Cli {
	return Cli{
		DownloadDir:           "./downloads",
		TmpDir:                "./tmp",
		LogDir:                "./logs",
		AssetsDir:             "./assets",
		ConfDir:               "./conf",
		MaxJobs:               2,
		MaxSegmentConcurrency: 5,
		MaxRetries:            3,
		RetryWaitTime:         5 * time.Second,
		ControlTimeout:        10 * time.Second,
		SegmentTimeout:        5 * time.Minute,
		UseFFmpeg:             true,
		NotFoundLimit:         3,
	}
}

func (c Cli) VideoDir() string { return filepath.Join(c.DownloadDir, "video") }
func (c Cli) CoverDir() string { return filepath.Join(c.DownloadDir, "cover") }

func (c Cli) DownloadInfoPath() string { return filepath.Join(c.DownloadDir, "download_info.json") }
func (c Cli) HeadersPath() string      { return filepath.Join(c.ConfDir, "headers.json") }

// EnsureDirs creates the full on-disk layout up front so every later write can
// assume its parent exists.
func (c Cli) EnsureDirs() error {
	dirs := []string{
		c.DownloadDir,
		c.VideoDir(),
		c.CoverDir(),
		c.TmpDir,
		filepath.Join(c.TmpDir, "m3u8"),
		filepath.Join(c.TmpDir, "key"),
		filepath.Join(c.TmpDir, "iv"),
		filepath.Join(c.TmpDir, "ts"),
		c.LogDir,
		c.AssetsDir,
		c.ConfDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
