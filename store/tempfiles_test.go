package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPathsDeriveFromLowercasedID(t *testing.T) {
	tmp := NewTempStore("/tmp/engine")
	require.Equal(t, filepath.Join("/tmp/engine", "m3u8", "abp-933.m3u8"), tmp.PlaylistPath("ABP-933"))
	require.Equal(t, filepath.Join("/tmp/engine", "key", "abp-933.key"), tmp.KeyPath("ABP-933"))
	require.Equal(t, filepath.Join("/tmp/engine", "iv", "abp-933.iv"), tmp.IVPath("ABP-933"))
	require.Equal(t, filepath.Join("/tmp/engine", "ts", "abp-933"), tmp.SegmentDir("ABP-933"))
	require.Equal(t, filepath.Join("/tmp/engine", "abp-933.txt"), tmp.MergeListPath("ABP-933"))
}

func TestLoadArtifactsMarksAbsent(t *testing.T) {
	tmp := NewTempStore(t.TempDir())
	require.NoError(t, tmp.InitDirs("abp-933"))

	arts, err := tmp.LoadArtifacts("abp-933")
	require.NoError(t, err)
	require.False(t, arts.HasPlaylist)
	require.False(t, arts.HasKey)
	require.False(t, arts.HasIV)

	require.NoError(t, tmp.WriteAll("abp-933", "#EXTM3U", []byte("0123456789abcdef"), "0xdeadbeef"))

	arts, err = tmp.LoadArtifacts("abp-933")
	require.NoError(t, err)
	require.True(t, arts.HasPlaylist)
	require.Equal(t, "#EXTM3U", arts.Playlist)
	require.True(t, arts.HasKey)
	require.Equal(t, []byte("0123456789abcdef"), arts.Key)
	require.True(t, arts.HasIV)
	require.Equal(t, "0xdeadbeef", arts.IV)
}

func TestCleanRemovesEveryArtifact(t *testing.T) {
	tmp := NewTempStore(t.TempDir())
	require.NoError(t, tmp.InitDirs("abp-933"))
	require.NoError(t, tmp.WriteAll("abp-933", "#EXTM3U", []byte("k"), "0x00"))
	require.NoError(t, os.WriteFile(filepath.Join(tmp.SegmentDir("abp-933"), "video0.ts"), make([]byte, 16), 0644))
	require.NoError(t, os.WriteFile(tmp.MergeListPath("abp-933"), []byte("file 'x'\n"), 0644))

	require.NoError(t, tmp.Clean("abp-933"))

	require.NoDirExists(t, tmp.SegmentDir("abp-933"))
	require.NoFileExists(t, tmp.PlaylistPath("abp-933"))
	require.NoFileExists(t, tmp.KeyPath("abp-933"))
	require.NoFileExists(t, tmp.IVPath("abp-933"))
	require.NoFileExists(t, tmp.MergeListPath("abp-933"))
}

func TestCleanOnColdStateIsANoOp(t *testing.T) {
	tmp := NewTempStore(t.TempDir())
	require.NoError(t, tmp.Clean("never-started"))
}
