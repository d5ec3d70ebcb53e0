package clients

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/grafov/m3u8"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/crypto"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/metrics"
	"github.com/vodloop/hlsfetch/store"
	"golang.org/x/sync/errgroup"
)

// SegmentFetcher runs one bounded fan-out pass over a set of pending segments.
type SegmentFetcher struct {
	cli     config.Cli
	fetcher Fetcher
	tmp     store.TempStore
}

func NewSegmentFetcher(cli config.Cli, fetcher Fetcher, tmp store.TempStore) SegmentFetcher {
	return SegmentFetcher{cli: cli, fetcher: fetcher, tmp: tmp}
}

// Wave downloads and decrypts the given segments with bounded concurrency.
// A segment that exhausts its retry budget is logged and left missing; the
// driver's next inventory pass picks it up again. A 403 or 410 from the origin
// cancels the whole wave and surfaces as Forbidden / PlaylistExpired.
func (f SegmentFetcher) Wave(ctx context.Context, jobID, playlistURL string, segments []*m3u8.MediaSegment, key []byte, iv string) error {
	if len(segments) == 0 {
		return nil
	}
	dir := f.tmp.SegmentDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	log.Log(jobID, "starting segment wave", "segments", len(segments), "concurrency", f.cli.MaxSegmentConcurrency)
	start := time.Now()

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(f.cli.MaxSegmentConcurrency)
	for _, segment := range segments {
		segment := segment
		group.Go(func() error {
			return f.fetchSegment(ctx, jobID, playlistURL, segment, dir, key, iv)
		})
	}
	err := group.Wait()

	metrics.Metrics.WaveDurationSec.Observe(time.Since(start).Seconds())
	log.Log(jobID, "segment wave finished", "segments", len(segments), "duration", time.Since(start), "success", err == nil)
	return err
}

func (f SegmentFetcher) fetchSegment(ctx context.Context, jobID, playlistURL string, segment *m3u8.MediaSegment, dir string, key []byte, iv string) error {
	segmentURL, err := ResolveURL(playlistURL, segment.URI)
	if err != nil {
		return errors.InvalidInput("resolving segment uri %s: %s", segment.URI, err)
	}
	segmentPath := filepath.Join(dir, path.Base(segment.URI))

	for attempt := 0; attempt < f.cli.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, body, err := f.fetcher.Get(ctx, segmentURL)
		switch {
		case err != nil:
			log.LogError(jobID, "segment fetch failed", err, "url", segmentURL, "attempt", attempt)
		case status == 200:
			return f.writeAndDecrypt(jobID, segmentPath, body, key, iv)
		case status == 403:
			return errors.Forbidden(segmentURL)
		case status == 410:
			return errors.PlaylistExpired(segmentURL)
		default:
			log.Log(jobID, "segment fetch got bad status", "url", segmentURL, "status", status, "attempt", attempt)
		}

		if attempt < f.cli.MaxRetries-1 {
			metrics.Metrics.SegmentRetries.Inc()
			if err := sleepCtx(ctx, f.cli.RetryWaitTime*(1<<attempt)); err != nil {
				return err
			}
		}
	}

	// Leave the slot empty. The driver re-inventories after the wave and only
	// declares the job failed once a whole pass makes no progress.
	log.Log(jobID, "segment exhausted retry budget, leaving for next pass", "url", segmentURL)
	metrics.Metrics.SegmentFailures.Inc()
	return nil
}

// writeAndDecrypt lands the ciphertext on disk first, then rewrites the file
// with the plaintext. A crash between the two writes leaves a length that
// fails the mod-16 check, so resume treats it as missing.
func (f SegmentFetcher) writeAndDecrypt(jobID, segmentPath string, ciphertext, key []byte, iv string) error {
	if err := os.WriteFile(segmentPath, ciphertext, 0644); err != nil {
		return err
	}
	plaintext, err := crypto.DecryptSegment(ciphertext, key, iv)
	if err != nil {
		// Wrong key or torn body; no point continuing the wave with it.
		return err
	}
	if err := os.WriteFile(segmentPath, plaintext, 0644); err != nil {
		return err
	}
	metrics.Metrics.SegmentsDownloaded.Inc()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
