package pipeline

import (
	"bytes"
	"context"
	aescipher "crypto/aes"
	"crypto/cipher"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"github.com/vodloop/hlsfetch/clients"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/crypto"
	"github.com/vodloop/hlsfetch/errors"
	"github.com/vodloop/hlsfetch/store"
)

const (
	testIV       = "0x11223344556677889900aabbccddeeff"
	playlistPath = "/hls/abc/video.m3u8"
)

var testKey = []byte("0123456789abcdef")

func fastBackoff(t *testing.T) {
	t.Helper()
	previous := clients.ControlRetryBackoff
	clients.ControlRetryBackoff = func(cli config.Cli) backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(cli.MaxRetries-1))
	}
	t.Cleanup(func() { clients.ControlRetryBackoff = previous })
}

func encryptSegment(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	iv, err := crypto.ParseIV(testIV)
	require.NoError(t, err)
	block, err := aescipher.NewCipher(testKey)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
	return ciphertext
}

func playlistText(uris ...string) string {
	sb := strings.Builder{}
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n")
	sb.WriteString(`#EXT-X-KEY:METHOD=AES-128,URI="video.key",IV=` + testIV + "\n")
	for _, uri := range uris {
		sb.WriteString("#EXTINF:4.000,\n" + uri + "\n")
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	return sb.String()
}

// origin is an in-memory HLS origin. Routes map URL to body; Status overrides
// force one-shot or sticky status codes per URL. All counters are per full URL.
type origin struct {
	mu     sync.Mutex
	routes map[string][]byte
	status map[string][]int
	calls  map[string]int
}

func newOrigin() *origin {
	return &origin{
		routes: map[string][]byte{},
		status: map[string][]int{},
		calls:  map[string]int{},
	}
}

func (o *origin) serve(url string, body []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes[url] = body
}

// respondOnce queues a status code returned for the next request to url
// before the normal body takes over.
func (o *origin) respondOnce(url string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[url] = append(o.status[url], status)
}

func (o *origin) count(url string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[url]
}

func (o *origin) Get(ctx context.Context, url string) (int, []byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[url]++
	if queued := o.status[url]; len(queued) > 0 {
		status := queued[0]
		o.status[url] = queued[1:]
		return status, nil, nil
	}
	body, ok := o.routes[url]
	if !ok {
		return 404, nil, nil
	}
	return 200, body, nil
}

func testCli(t *testing.T) config.Cli {
	t.Helper()
	base := t.TempDir()
	cli := config.DefaultCli()
	cli.DownloadDir = filepath.Join(base, "downloads")
	cli.TmpDir = filepath.Join(base, "tmp")
	cli.LogDir = filepath.Join(base, "logs")
	cli.AssetsDir = filepath.Join(base, "assets")
	cli.ConfDir = filepath.Join(base, "conf")
	cli.UseFFmpeg = false
	cli.RetryWaitTime = time.Millisecond
	require.NoError(t, cli.EnsureDirs())
	return cli
}

func newTestDriver(t *testing.T, cli config.Cli, o *origin) (Driver, store.TempStore, *store.DownloadInfo) {
	t.Helper()
	tmp := store.NewTempStore(cli.TmpDir)
	info := store.NewDownloadInfo(cli.DownloadInfoPath())
	return NewDriver(cli, o, o, tmp, info), tmp, info
}

func seedOrigin(t *testing.T, o *origin, segments map[string][]byte) {
	t.Helper()
	var uris []string
	for i := 0; i < len(segments); i++ {
		uris = append(uris, fmt.Sprintf("video%d.ts", i))
	}
	o.serve(playlistPath, []byte(playlistText(uris...)))
	o.serve("/hls/abc/video.key", testKey)
	for uri, plaintext := range segments {
		o.serve("/hls/abc/"+uri, encryptSegment(t, plaintext))
	}
}

func testJob() *Job {
	return &Job{
		ID:      "ABP-933",
		Name:    "some title",
		Actress: "some actress",
		HLSURL:  playlistPath,
		Src:     "https://page.example/ABP-933",
	}
}

func TestDriverDownloadsDecryptsAndMerges(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
		"video1.ts": bytes.Repeat([]byte{'B'}, 32),
		"video2.ts": bytes.Repeat([]byte{'C'}, 16),
	})
	cli := testCli(t)
	driver, tmp, info := newTestDriver(t, cli, o)

	job := testJob()
	require.NoError(t, driver.Run(context.Background(), job))
	require.Equal(t, StatusFinished, job.Status())

	content, err := os.ReadFile(filepath.Join(cli.VideoDir(), "ABP-933 some title some actress.mp4"))
	require.NoError(t, err)
	want := append(bytes.Repeat([]byte{'A'}, 16), bytes.Repeat([]byte{'B'}, 32)...)
	want = append(want, bytes.Repeat([]byte{'C'}, 16)...)
	require.Equal(t, want, content)

	// success cleans the temp artifacts
	_, err = os.Stat(tmp.SegmentDir("abp-933"))
	require.True(t, os.IsNotExist(err))
	_, hasKey, err := tmp.ReadKey("abp-933")
	require.NoError(t, err)
	require.False(t, hasKey)

	attempts, err := info.Attempts("abp-933")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, playlistPath, attempts[0].HLSURL)
}

func TestDriverResumesWithoutRefetchingFinishedSegments(t *testing.T) {
	fastBackoff(t)
	plain0 := bytes.Repeat([]byte{'A'}, 16)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": plain0,
		"video1.ts": bytes.Repeat([]byte{'B'}, 16),
	})
	cli := testCli(t)
	driver, tmp, info := newTestDriver(t, cli, o)

	// a previous run already landed segment 0 decrypted, plus the artifacts
	require.NoError(t, tmp.InitDirs("abp-933"))
	require.NoError(t, tmp.WriteAll("abp-933", playlistText("video0.ts", "video1.ts"), testKey, testIV))
	require.NoError(t, os.WriteFile(filepath.Join(tmp.SegmentDir("abp-933"), "video0.ts"), plain0, 0644))
	require.NoError(t, info.Append("abp-933", store.AttemptRecord{HLSURL: playlistPath}))

	job := testJob()
	require.NoError(t, driver.Run(context.Background(), job))

	require.Equal(t, 0, o.count("/hls/abc/video0.ts"), "finished segment must not be refetched")
	require.Equal(t, 1, o.count("/hls/abc/video1.ts"))

	// unchanged playlist: no second attempt record
	attempts, err := info.Attempts("abp-933")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestDriverRefreshesExpiredPlaylistMidWave(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
		"video1.ts": bytes.Repeat([]byte{'B'}, 16),
	})
	// first request for segment 1 gets 410; the refreshed playlist serves fine
	o.respondOnce("/hls/abc/video1.ts", 410)
	cli := testCli(t)
	driver, _, _ := newTestDriver(t, cli, o)

	job := testJob()
	require.NoError(t, driver.Run(context.Background(), job))
	require.Equal(t, StatusFinished, job.Status())
	require.Equal(t, 2, o.count(playlistPath), "expiry must trigger a playlist refresh")
}

func TestDriverForbiddenFailsJobAndKeepsTemp(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
		"video1.ts": bytes.Repeat([]byte{'B'}, 16),
	})
	o.respondOnce("/hls/abc/video1.ts", 403)
	cli := testCli(t)
	driver, tmp, info := newTestDriver(t, cli, o)

	job := testJob()
	err := driver.Run(context.Background(), job)
	require.Error(t, err)
	require.True(t, errors.IsForbidden(err))
	require.Equal(t, StatusFailed, job.Status())

	// failure preserves everything for a resume after cookies refresh
	_, statErr := os.Stat(tmp.SegmentDir("abp-933"))
	require.NoError(t, statErr)
	_, hasKey, readErr := tmp.ReadKey("abp-933")
	require.NoError(t, readErr)
	require.True(t, hasKey)

	// only the playlist fetch logged an attempt; the failed wave adds nothing
	attempts, err := info.Attempts("abp-933")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
}

func TestDriverDownloadsCoverBestEffort(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
	})
	o.serve("/covers/abp-933.jpg", []byte("jpeg bytes"))
	cli := testCli(t)
	driver, _, _ := newTestDriver(t, cli, o)

	job := testJob()
	job.CoverURL = "/covers/abp-933.jpg"
	require.NoError(t, driver.Run(context.Background(), job))

	content, err := os.ReadFile(filepath.Join(cli.CoverDir(), "abp-933.jpg"))
	require.NoError(t, err)
	require.Equal(t, []byte("jpeg bytes"), content)
}

func TestDriverFailsWhenWaveMakesNoProgress(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	// the playlist names a segment the origin never serves
	o.serve(playlistPath, []byte(playlistText("video0.ts", "video1.ts")))
	o.serve("/hls/abc/video.key", testKey)
	o.serve("/hls/abc/video0.ts", encryptSegment(t, bytes.Repeat([]byte{'A'}, 16)))
	cli := testCli(t)
	driver, _, _ := newTestDriver(t, cli, o)

	job := testJob()
	err := driver.Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, StatusFailed, job.Status())
	require.Contains(t, err.Error(), "no progress")
}

func TestJobStatusReadableWhileDriverRuns(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
		"video1.ts": bytes.Repeat([]byte{'B'}, 16),
		"video2.ts": bytes.Repeat([]byte{'C'}, 16),
	})
	cli := testCli(t)
	driver, _, _ := newTestDriver(t, cli, o)
	coordinator := NewCoordinator(cli, driver)

	// poll the registry the way the sender does while the driver mutates
	// status; the race detector flags any unguarded access
	done := make(chan map[string]error, 1)
	go func() {
		done <- coordinator.Run(context.Background(), []*Job{testJob()})
	}()
	for {
		select {
		case results := <-done:
			require.NoError(t, results["ABP-933"])
			require.Equal(t, StatusFinished, coordinator.Jobs.Get("ABP-933").Status())
			return
		default:
			for _, job := range coordinator.Jobs.All() {
				_ = job.Status()
			}
		}
	}
}

func TestCoordinatorIsolatesJobFailures(t *testing.T) {
	fastBackoff(t)
	o := newOrigin()
	seedOrigin(t, o, map[string][]byte{
		"video0.ts": bytes.Repeat([]byte{'A'}, 16),
	})
	// second job's playlist is forbidden outright
	o.respondOnce("/hls/other/video.m3u8", 403)
	cli := testCli(t)
	driver, _, _ := newTestDriver(t, cli, o)
	coordinator := NewCoordinator(cli, driver)

	good := testJob()
	bad := &Job{ID: "BAD-001", HLSURL: "/hls/other/video.m3u8"}
	results := coordinator.Run(context.Background(), []*Job{good, bad})

	require.NoError(t, results["ABP-933"])
	require.Error(t, results["BAD-001"])
	require.True(t, errors.IsForbidden(results["BAD-001"]))
	require.Equal(t, StatusFinished, coordinator.Jobs.Get("ABP-933").Status())
	require.Equal(t, StatusFailed, coordinator.Jobs.Get("BAD-001").Status())
}
