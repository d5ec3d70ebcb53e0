package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/log"
)

// Fetcher is the one-shot GET both HTTP drivers implement. Non-2xx statuses
// are returned to the caller rather than turned into errors, because the
// status code is what the retry state machines classify on.
type Fetcher interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// ControlClient drives the small control-plane requests: playlists, keys and
// covers. It rides on go-retryablehttp so flaky 5xxs and connection resets are
// absorbed below the engine's own backoff loop.
type ControlClient struct {
	client  *http.Client
	headers *config.Headers
}

func NewControlClient(cli config.Cli, headers *config.Headers) (*ControlClient, error) {
	transport, err := newTransport(cli.ProxyURL)
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout:   cli.ControlTimeout,
		Transport: transport,
	}

	return &ControlClient{client: client.StandardClient(), headers: headers}, nil
}

func (c *ControlClient) Get(ctx context.Context, url string) (int, []byte, error) {
	return doGet(ctx, c.client, c.headers, url)
}

// SegmentClient drives the bulk segment GETs. No transport-level retries here:
// the wave's own state machine decides what gets retried, and a multi-megabyte
// body is not worth re-reading twice per attempt.
type SegmentClient struct {
	client  *http.Client
	headers *config.Headers
}

func NewSegmentClient(cli config.Cli, headers *config.Headers) (*SegmentClient, error) {
	transport, err := newTransport(cli.ProxyURL)
	if err != nil {
		return nil, err
	}
	return &SegmentClient{
		client: &http.Client{
			Timeout:   cli.SegmentTimeout,
			Transport: transport,
		},
		headers: headers,
	}, nil
}

func (c *SegmentClient) Get(ctx context.Context, url string) (int, []byte, error) {
	return doGet(ctx, c.client, c.headers, url)
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url %s: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return transport, nil
}

func doGet(ctx context.Context, client *http.Client, headers *config.Headers, requestURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request for %s: %w", requestURL, err)
	}
	headers.Apply(req)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("getting %s: %w", requestURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading body of %s: %w", requestURL, err)
	}
	return resp.StatusCode, body, nil
}

// ResolveURL resolves a playlist-relative reference (a segment URI or key URI)
// against the playlist's own URL, the same way a player would.
func ResolveURL(playlistURL, ref string) (string, error) {
	base, err := url.Parse(playlistURL)
	if err != nil {
		return "", fmt.Errorf("parsing playlist url %s: %w", playlistURL, err)
	}
	relative, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing reference %s: %w", ref, err)
	}
	return base.ResolveReference(relative).String(), nil
}
