package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/grafov/m3u8"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/log"
	"github.com/vodloop/hlsfetch/store"
)

// ControlRetryBackoff builds the backoff for playlist and key requests:
// base * 2^k with no jitter, capped at the configured attempt budget.
// Overridable so tests don't sit through real waits.
var ControlRetryBackoff = func(cli config.Cli) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = cli.RetryWaitTime
	exponential.RandomizationFactor = 0
	exponential.Multiplier = 2
	exponential.MaxInterval = 10 * time.Minute
	exponential.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exponential, uint64(cli.MaxRetries-1))
}

// PlaylistFetcher pulls the media playlist, its AES key and IV for a job and
// caches all three under the temp store. A successful (re-)fetch appends an
// attempt record to the download log before returning, so the playlist URL is
// on record even if the process dies mid-wave.
type PlaylistFetcher struct {
	cli     config.Cli
	fetcher Fetcher
	tmp     store.TempStore
	info    *store.DownloadInfo
}

func NewPlaylistFetcher(cli config.Cli, fetcher Fetcher, tmp store.TempStore, info *store.DownloadInfo) PlaylistFetcher {
	return PlaylistFetcher{cli: cli, fetcher: fetcher, tmp: tmp, info: info}
}

// Fetch retrieves and caches the playlist artifacts for jobID. The returned
// bool reports whether anything was (re)written; false means the cached
// playlist text, key and IV already match what the origin serves and the
// download log was left alone.
func (p PlaylistFetcher) Fetch(ctx context.Context, jobID, playlistURL string, record store.AttemptRecord) (*m3u8.MediaPlaylist, bool, error) {
	if err := p.tmp.InitDirs(jobID); err != nil {
		return nil, false, err
	}

	lastURL, hasHistory := p.info.LatestPlaylistURL(jobID)

	playlist, text, err := p.fetchPlaylist(ctx, jobID, playlistURL)
	if err != nil {
		return nil, false, err
	}

	artifacts, err := p.tmp.LoadArtifacts(jobID)
	if err != nil {
		return nil, false, err
	}
	// A lost IV file is recoverable offline: the cached playlist text carries
	// the same IV in its key tag.
	if artifacts.HasPlaylist && !artifacts.HasIV {
		if cached, parseErr := ParseMediaPlaylist(artifacts.Playlist); parseErr == nil {
			if err := p.tmp.WriteIV(jobID, cached.Key.IV); err != nil {
				return nil, false, err
			}
			artifacts.IV = cached.Key.IV
			artifacts.HasIV = true
			log.Log(jobID, "recovered IV from cached playlist")
		}
	}
	unchanged := artifacts.HasPlaylist && artifacts.HasKey && artifacts.HasIV &&
		hashText(artifacts.Playlist) == hashText(text) &&
		hasHistory && lastURL == playlistURL
	if unchanged {
		log.Log(jobID, "playlist unchanged, reusing cached artifacts", "url", playlistURL)
		return playlist, false, nil
	}

	key, iv, err := p.fetchKey(ctx, jobID, playlistURL, playlist.Key)
	if err != nil {
		return nil, false, err
	}

	if err := p.tmp.WriteAll(jobID, text, key, iv); err != nil {
		return nil, false, err
	}
	record.HLSURL = playlistURL
	if err := p.info.Append(jobID, record); err != nil {
		return nil, false, err
	}
	log.Log(jobID, "playlist fetched", "url", playlistURL, "segments", playlist.Count())
	return playlist, true, nil
}

func (p PlaylistFetcher) fetchPlaylist(ctx context.Context, jobID, playlistURL string) (*m3u8.MediaPlaylist, string, error) {
	var playlist *m3u8.MediaPlaylist
	var text string
	notFound := 0

	fetch := func() error {
		status, body, err := p.fetcher.Get(ctx, playlistURL)
		if err != nil {
			return err
		}
		switch status {
		case 200:
		case 403:
			return errors.Forbidden(playlistURL)
		case 404:
			notFound++
			if notFound >= p.cli.NotFoundLimit {
				return errors.NotFound(playlistURL)
			}
			return fmt.Errorf("playlist %s returned 404", playlistURL)
		default:
			return fmt.Errorf("playlist %s returned status %d", playlistURL, status)
		}

		parsed, err := ParseMediaPlaylist(string(body))
		if err != nil {
			return err
		}
		playlist = parsed
		text = string(body)
		return nil
	}

	err := backoff.Retry(fetch, backoff.WithContext(ControlRetryBackoff(p.cli), ctx))
	if err != nil {
		log.LogError(jobID, "failed to fetch playlist", err, "url", playlistURL)
		return nil, "", fmt.Errorf("fetching playlist: %w", err)
	}
	return playlist, text, nil
}

func (p PlaylistFetcher) fetchKey(ctx context.Context, jobID, playlistURL string, keyTag *m3u8.Key) ([]byte, string, error) {
	keyURL, err := ResolveURL(playlistURL, keyTag.URI)
	if err != nil {
		return nil, "", errors.InvalidInput("resolving key uri %s: %s", keyTag.URI, err)
	}

	var key []byte
	fetch := func() error {
		status, body, err := p.fetcher.Get(ctx, keyURL)
		if err != nil {
			return err
		}
		switch status {
		case 200:
		case 403:
			return errors.Forbidden(keyURL)
		default:
			return fmt.Errorf("key %s returned status %d", keyURL, status)
		}
		if len(body) != 16 {
			return errors.InvalidInput("key %s is %d bytes, want 16", keyURL, len(body))
		}
		key = body
		return nil
	}

	err = backoff.Retry(fetch, backoff.WithContext(ControlRetryBackoff(p.cli), ctx))
	if err != nil {
		log.LogError(jobID, "failed to fetch AES key", err, "url", keyURL)
		return nil, "", fmt.Errorf("fetching key: %w", err)
	}
	return key, keyTag.IV, nil
}

// ParseMediaPlaylist decodes playlist text and enforces what the engine can
// actually download: a media playlist with at least one segment, encrypted
// under a single AES-128 key with an explicit IV.
func ParseMediaPlaylist(text string) (*m3u8.MediaPlaylist, error) {
	parsed, playlistType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return nil, errors.InvalidInput("parsing playlist: %s", err)
	}
	if playlistType != m3u8.MEDIA {
		return nil, errors.InvalidInput("playlist is not a media playlist")
	}
	playlist := parsed.(*m3u8.MediaPlaylist)
	if playlist.Count() == 0 {
		return nil, errors.InvalidInput("playlist has no segments")
	}
	if playlist.Key == nil || playlist.Key.Method != "AES-128" {
		return nil, errors.InvalidInput("playlist is not AES-128 encrypted")
	}
	if playlist.Key.IV == "" {
		return nil, errors.InvalidInput("playlist key carries no IV")
	}
	return playlist, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
