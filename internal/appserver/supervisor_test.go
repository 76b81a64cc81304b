package appserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/booklore-runner/pkg/errors"
)

// fakeJava records its argv and environment, then either sleeps or exits.
func fakeJava(t *testing.T, dir, tail string) string {
	t.Helper()
	p := filepath.Join(dir, "java")
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + filepath.Join(dir, "argv") + `"
env > "` + filepath.Join(dir, "env") + `"
echo "Starting BookLore"
` + tail + "\n"
	require.NoError(t, os.WriteFile(p, []byte(script), 0755))
	return p
}

func healthServer(t *testing.T, status *int32) (int, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/healthcheck" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(int(atomic.LoadInt32(status)))
	}))
	t.Cleanup(srv.Close)
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	return p, &hits
}

func launchConfig(t *testing.T, java string, port int) LaunchConfig {
	t.Helper()
	root := t.TempDir()
	jar := filepath.Join(root, "booklore-api.jar")
	require.NoError(t, os.WriteFile(jar, []byte("PK"), 0644))
	return LaunchConfig{
		JavaPath:         java,
		JavaHome:         filepath.Dir(filepath.Dir(java)),
		Jar:              jar,
		HeapMin:          "128m",
		HeapMax:          "512m",
		ConfigDir:        filepath.Join(root, "config"),
		ImportDir:        filepath.Join(root, "bookdrop"),
		BooksDir:         filepath.Join(root, "books"),
		Port:             port,
		DatabaseURL:      "jdbc:mariadb://localhost/booklore?localSocket=%2Ftmp%2Fmysql.sock",
		DatabaseUser:     "root",
		DatabasePassword: "",
		LogPath:          filepath.Join(root, "logs", "backend.log"),
	}
}

func newSupervisor(attempts int) *Supervisor {
	return New(Options{
		HealthPath:   "/api/v1/healthcheck",
		PollInterval: 20 * time.Millisecond,
		MaxAttempts:  attempts,
		StopGrace:    2 * time.Second,
	})
}

func TestStart_HealthyLaunch(t *testing.T) {
	dir := t.TempDir()
	java := fakeJava(t, dir, "exec sleep 30")
	status := int32(http.StatusServiceUnavailable)
	port, hits := healthServer(t, &status)

	go func() {
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&status, http.StatusOK)
	}()

	s := newSupervisor(100)
	cfg := launchConfig(t, java, port)
	proc, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Stop(context.Background())

	assert.False(t, proc.Exited())
	assert.Greater(t, atomic.LoadInt32(hits), int32(1))
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(port), s.URL())

	argv, err := os.ReadFile(filepath.Join(dir, "argv"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(cfg.Command()[1:], "\n")+"\n", string(argv))
	assert.Contains(t, string(argv), "-Dserver.port="+strconv.Itoa(port))
	assert.Contains(t, string(argv), "-Dapp.bookdrop-folder="+cfg.ImportDir)

	env, err := os.ReadFile(filepath.Join(dir, "env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "DATABASE_URL="+cfg.DatabaseURL)
	assert.Contains(t, string(env), "DATABASE_USERNAME=root")
	assert.Contains(t, string(env), "BOOKLORE_PORT="+strconv.Itoa(port))
	assert.Contains(t, string(env), "JAVA_HOME="+cfg.JavaHome)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, proc.Exited())
}

func TestStart_ExactlyMaxAttempts(t *testing.T) {
	java := fakeJava(t, t.TempDir(), "exec sleep 30")
	status := int32(http.StatusServiceUnavailable)
	port, hits := healthServer(t, &status)

	s := newSupervisor(7)
	_, err := s.Start(context.Background(), launchConfig(t, java, port))
	defer s.Stop(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Equal(t, int32(7), atomic.LoadInt32(hits), "one request per attempt, no more, no fewer")
	assert.Contains(t, errors.Describe(err), "Starting BookLore")
}

func TestStart_ProcessExitIsImmediateError(t *testing.T) {
	java := fakeJava(t, t.TempDir(), `echo "Error: Unable to access jarfile"; exit 1`)
	status := int32(http.StatusServiceUnavailable)
	port, _ := healthServer(t, &status)

	s := newSupervisor(1000)
	start := time.Now()
	_, err := s.Start(context.Background(), launchConfig(t, java, port))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProcessDied)
	assert.Contains(t, errors.Describe(err), "Unable to access jarfile")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStart_MissingJar(t *testing.T) {
	java := fakeJava(t, t.TempDir(), "exit 0")
	cfg := launchConfig(t, java, 1)
	cfg.Jar = filepath.Join(t.TempDir(), "missing.jar")

	s := newSupervisor(1)
	_, err := s.Start(context.Background(), cfg)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Nil(t, s.Handle())
}

func TestStop_WithoutStart(t *testing.T) {
	s := newSupervisor(1)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestImport(t *testing.T) {
	src := t.TempDir()
	book := filepath.Join(src, "dune.epub")
	require.NoError(t, os.WriteFile(book, []byte("epub"), 0644))
	other := filepath.Join(src, "notes.pdf")
	require.NoError(t, os.WriteFile(other, []byte("pdf"), 0644))

	s := newSupervisor(1)
	_, err := s.Import(context.Background(), []string{book})
	assert.ErrorIs(t, err, errors.ErrNotReady, "no drop folder before start")

	drop := filepath.Join(t.TempDir(), "bookdrop")
	s.importDir = drop

	n, err := s.Import(context.Background(), []string{book, other, filepath.Join(src, "missing.epub"), src})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Import(context.Background(), []string{book})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := os.ReadDir(drop)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, []string{"dune.epub", "dune (1).epub", "notes.pdf"}, got)

	_, err = s.Import(context.Background(), []string{filepath.Join(src, "missing.epub")})
	assert.ErrorIs(t, err, errors.ErrImport)
}
