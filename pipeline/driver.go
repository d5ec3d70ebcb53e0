package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vodloop/hlsfetch/clients"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/metrics"
	"github.com/vodloop/hlsfetch/store"
	"github.com/vodloop/hlsfetch/video"
)

// Driver runs one job end to end: playlist fetch, repeated segment waves
// until the inventory is clean, then the merge. Temp artifacts are removed on
// success only, so a failed or interrupted job resumes from whatever landed
// on disk.
type Driver struct {
	cli       config.Cli
	control   clients.Fetcher
	playlists clients.PlaylistFetcher
	segments  clients.SegmentFetcher
	inventory video.Inventory
	merger    video.Merger
	tmp       store.TempStore
}

func NewDriver(cli config.Cli, control, segment clients.Fetcher, tmp store.TempStore, info *store.DownloadInfo) Driver {
	return Driver{
		cli:       cli,
		control:   control,
		playlists: clients.NewPlaylistFetcher(cli, control, tmp, info),
		segments:  clients.NewSegmentFetcher(cli, segment, tmp),
		inventory: video.NewInventory(info, tmp),
		merger:    video.NewMerger(tmp, cli.VideoDir(), cli.UseFFmpeg),
		tmp:       tmp,
	}
}

// Run executes the job and updates its status in place.
func (d Driver) Run(ctx context.Context, job *Job) error {
	log.AddContext(job.ID, "src", job.Src)
	start := time.Now()

	job.SetStatus(StatusDownloading)
	outPath, err := d.run(ctx, job)
	if err != nil {
		job.SetStatus(StatusFailed)
		metrics.Metrics.JobsCompleted.WithLabelValues("failed").Inc()
		log.LogError(job.ID, "job failed", err, "duration", time.Since(start))
		return err
	}

	job.SetStatus(StatusFinished)
	metrics.Metrics.JobsCompleted.WithLabelValues("finished").Inc()
	metrics.Metrics.JobDurationSec.Observe(time.Since(start).Seconds())
	log.Log(job.ID, "job finished", "output", outPath, "duration", time.Since(start))
	return nil
}

func (d Driver) run(ctx context.Context, job *Job) (string, error) {
	playlist, _, err := d.playlists.Fetch(ctx, job.ID, job.HLSURL, job.AttemptRecord())
	if err != nil {
		return "", err
	}

	d.downloadCover(ctx, job)

	key, iv, err := d.loadKeyMaterial(job.ID)
	if err != nil {
		return "", err
	}

	lastPending := -1
	for {
		pending, err := d.inventory.Pending(job.ID, playlist)
		if err != nil {
			return "", err
		}
		if len(pending) == 0 {
			break
		}
		if lastPending != -1 && len(pending) >= lastPending {
			return "", fmt.Errorf("segment wave made no progress, %d segments still pending", len(pending))
		}
		lastPending = len(pending)
		log.Log(job.ID, "segments pending", "count", len(pending), "total", playlist.Count())

		waveErr := d.segments.Wave(ctx, job.ID, job.HLSURL, pending, key, iv)
		if errors.IsPlaylistExpired(waveErr) {
			// The origin rotated the playlist mid-wave. Re-fetch it and carry
			// on; everything already on disk stays credited through the
			// recorded prefixes.
			metrics.Metrics.PlaylistRefreshes.Inc()
			log.Log(job.ID, "playlist expired mid-wave, refreshing")
			playlist, _, err = d.playlists.Fetch(ctx, job.ID, job.HLSURL, job.AttemptRecord())
			if err != nil {
				return "", err
			}
			if key, iv, err = d.loadKeyMaterial(job.ID); err != nil {
				return "", err
			}
			lastPending = -1
			continue
		}
		if waveErr != nil {
			return "", waveErr
		}
	}

	job.SetStatus(StatusMerging)
	outPath, err := d.merger.Merge(job.ID, playlist, job.FinalName())
	if err != nil {
		return "", err
	}

	if err := d.tmp.Clean(job.ID); err != nil {
		log.LogError(job.ID, "failed to clean temp artifacts", err)
	}
	return outPath, nil
}

func (d Driver) loadKeyMaterial(jobID string) ([]byte, string, error) {
	arts, err := d.tmp.LoadArtifacts(jobID)
	if err != nil {
		return nil, "", err
	}
	if !arts.HasKey || !arts.HasIV {
		return nil, "", fmt.Errorf("key material missing after playlist fetch")
	}
	return arts.Key, arts.IV, nil
}

func (d Driver) downloadCover(ctx context.Context, job *Job) {
	if job.CoverURL == "" {
		return
	}
	destPath := filepath.Join(d.cli.CoverDir(), job.CoverName())
	if err := clients.DownloadCover(ctx, d.control, job.ID, job.CoverURL, destPath); err != nil {
		log.LogError(job.ID, "cover download failed", err, "url", job.CoverURL)
	}
}
