package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarGz(t *testing.T, files ...string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: 1}))
		_, err := tw.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestInstall_PrefersNamedTopLevelDir(t *testing.T) {
	archive := tarGz(t, "docs/README", "mariadb-11.4.5/bin/mariadbd")
	root := t.TempDir()
	target := filepath.Join(root, "mariadb")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "stale"), 0755))

	require.NoError(t, Install(archive, target, "mariadb"))

	assert.FileExists(t, filepath.Join(target, "bin", "mariadbd"))
	assert.NoDirExists(t, filepath.Join(target, "stale"), "previous content is replaced")
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory is removed")
}

func TestInstall_AmbiguousLayout(t *testing.T) {
	archive := tarGz(t, "a/file", "b/file")
	target := filepath.Join(t.TempDir(), "jre")

	err := Install(archive, target, "jdk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 top-level directories")
	assert.NoDirExists(t, target)
}

func TestFile_ReportsProgressAndCounts(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	var (
		progress []int
		counted  int
	)
	path, err := File(context.Background(), srv.Client(), srv.URL, t.TempDir(), "dl-*.bin", Progress{
		Label:  "test archive",
		Report: func(p int, _ string) { progress = append(progress, p) },
		Count:  func(n int) { counted += n },
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, len(body))
	assert.Equal(t, len(body), counted)
	require.NotEmpty(t, progress)
	assert.Equal(t, DownloadShare, progress[len(progress)-1])
	assert.IsIncreasing(t, progress)
}

func TestFile_TruncatedBodyLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := File(context.Background(), srv.Client(), srv.URL, dir, "dl-*.bin", Progress{})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
