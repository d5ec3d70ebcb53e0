package config

import (
	"flag"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommaMapFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	var headers map[string]string
	CommaMapFlag(fs, &headers, "header", map[string]string{}, "extra headers")
	require.NoError(t, fs.Parse([]string{"-header", "Origin=https://example.com,Referer=https://example.com/"}))
	require.Equal(t, map[string]string{
		"Origin":  "https://example.com",
		"Referer": "https://example.com/",
	}, headers)
}

func TestCommaMapFlagRejectsBarePairs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var m map[string]string
	CommaMapFlag(fs, &m, "header", map[string]string{}, "extra headers")
	require.Error(t, fs.Parse([]string{"-header", "no-equals-sign"}))
}

func TestURLVarFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	var proxy *url.URL
	URLVarFlag(fs, &proxy, "proxy", "", "http proxy")
	require.NoError(t, fs.Parse([]string{"-proxy", "http://127.0.0.1:10809"}))
	require.Equal(t, "http://127.0.0.1:10809", proxy.String())
}

func TestEnsureDirsCreatesFullLayout(t *testing.T) {
	cli := DefaultCli()
	base := t.TempDir()
	cli.DownloadDir = filepath.Join(base, "downloads")
	cli.TmpDir = filepath.Join(base, "tmp")
	cli.LogDir = filepath.Join(base, "logs")
	cli.AssetsDir = filepath.Join(base, "assets")
	cli.ConfDir = filepath.Join(base, "conf")

	require.NoError(t, cli.EnsureDirs())
	for _, dir := range []string{
		cli.VideoDir(), cli.CoverDir(),
		filepath.Join(cli.TmpDir, "m3u8"), filepath.Join(cli.TmpDir, "key"),
		filepath.Join(cli.TmpDir, "iv"), filepath.Join(cli.TmpDir, "ts"),
	} {
		require.DirExists(t, dir)
	}
}

func TestHeadersCookieRoundTrip(t *testing.T) {
	h := NewHeaders()
	h.SetCookie("session=abc123")

	path := filepath.Join(t.TempDir(), "headers.json")
	require.NoError(t, h.Save(path))

	loaded := NewHeaders()
	require.NoError(t, loaded.Load(path))
	require.Equal(t, "session=abc123", loaded.Get("Cookie"))
	require.Equal(t, DefaultUserAgent, loaded.Get("User-Agent"))
}

func TestHeadersLoadMissingFileKeepsDefaults(t *testing.T) {
	h := NewHeaders()
	require.NoError(t, h.Load(filepath.Join(t.TempDir(), "absent.json")))
	require.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
}
