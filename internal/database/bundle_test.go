package database

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
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

func newTestBundle(t *testing.T, source, url string) (*Bundle, string) {
	t.Helper()
	root := t.TempDir()
	b := NewBundle(filepath.Join(root, "mariadb"), protocol.DatabaseConfig{
		Version:         "11.4.5",
		BundleDir:       source,
		ArchiveURL:      url,
		DownloadTimeout: 10 * time.Second,
	})
	return b, root
}

func assertOnlyEntry(t *testing.T, root, want string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if want == "" {
		assert.Empty(t, names)
		return
	}
	assert.Equal(t, []string{want}, names)
}

func mariadbArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := map[string]string{
		"mariadb-11.4.5-linux-systemd-x86_64/bin/mariadbd":               "#!/bin/sh\n",
		"mariadb-11.4.5-linux-systemd-x86_64/bin/mariadb":                "#!/bin/sh\n",
		"mariadb-11.4.5-linux-systemd-x86_64/scripts/mariadb-install-db": "#!/bin/sh\n",
		"mariadb-11.4.5-linux-systemd-x86_64/share/english/errmsg.sys":   "errors",
	}
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "mariadb-11.4.5-linux-systemd-x86_64/", Typeflag: tar.TypeDir, Mode: 0755}))
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestBundle_CopiesShippedDistribution(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "bin"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "scripts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "bin", "mariadbd"), []byte("#!/bin/sh\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "scripts", "mariadb-install-db"), []byte("#!/bin/sh\n"), 0644))
	require.NoError(t, os.Symlink("mariadbd", filepath.Join(src, "bin", "mysqld")))

	b, root := newTestBundle(t, src, "http://127.0.0.1:1/unused")
	require.False(t, b.Installed())
	require.NoError(t, b.Ensure(context.Background(), nil))

	assert.True(t, b.Installed())
	for _, p := range []string{"bin/mariadbd", "scripts/mariadb-install-db"} {
		info, err := os.Stat(filepath.Join(b.Dir, p))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm(), p)
	}
	link, err := os.Readlink(filepath.Join(b.Dir, "bin", "mysqld"))
	require.NoError(t, err)
	assert.Equal(t, "mariadbd", link)
	assertOnlyEntry(t, root, "mariadb")

	// An installed distribution is kept as is.
	require.NoError(t, os.RemoveAll(src))
	require.NoError(t, b.Ensure(context.Background(), nil))
	assert.True(t, b.Installed())
}

func TestBundle_DownloadsReleaseArchive(t *testing.T) {
	archive := mariadbArchive(t)
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
		w.Write(archive)
	}))
	defer srv.Close()

	b, root := newTestBundle(t, "", srv.URL+"/mariadb-{version}/mariadb-{version}.tar.gz")
	var progress []int
	require.NoError(t, b.Ensure(context.Background(), func(p int, _ string) {
		if p >= 0 {
			progress = append(progress, p)
		}
	}))

	assert.Equal(t, "/mariadb-11.4.5/mariadb-11.4.5.tar.gz", requested)
	assert.True(t, b.Installed())
	info, err := os.Stat(filepath.Join(b.Dir, "bin", "mariadbd"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	require.NotEmpty(t, progress)
	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.IsNonDecreasing(t, progress)
	assertOnlyEntry(t, root, "mariadb")
}

func TestBundle_Failures(t *testing.T) {
	t.Run("download error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		b, root := newTestBundle(t, "", srv.URL)
		err := b.Ensure(context.Background(), nil)
		assert.ErrorIs(t, err, errors.ErrAcquisition)
		assert.True(t, errors.Retryable(err))
		assertOnlyEntry(t, root, "")
	})

	t.Run("archive without server", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "mariadb-11.4.5/README", Typeflag: tar.TypeReg, Mode: 0644, Size: 2}))
		tw.Write([]byte("hi"))
		tw.Close()
		gz.Close()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(buf.Bytes())
		}))
		defer srv.Close()

		b, root := newTestBundle(t, "", srv.URL)
		err := b.Ensure(context.Background(), nil)
		assert.ErrorIs(t, err, errors.ErrInitialization)
		assertOnlyEntry(t, root, "")
	})

	t.Run("nothing to install from", func(t *testing.T) {
		b, _ := newTestBundle(t, filepath.Join(t.TempDir(), "missing"), "")
		b.URL = ""
		assert.ErrorIs(t, b.Ensure(context.Background(), nil), errors.ErrNotFound)
	})
}

func TestArchiveURL(t *testing.T) {
	url, err := ArchiveURL("11.4.5", "darwin", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "https://archive.mariadb.org/mariadb-11.4.5/bintar-darwin-arm64/mariadb-11.4.5-darwin-arm64.tar.gz", url)

	url, err = ArchiveURL("11.4.5", "linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "https://archive.mariadb.org/mariadb-11.4.5/bintar-linux-systemd-x86_64/mariadb-11.4.5-linux-systemd-x86_64.tar.gz", url)

	_, err = ArchiveURL("11.4.5", "windows", "amd64")
	assert.Error(t, err)
}
