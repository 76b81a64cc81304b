package database

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServesDataDir(t *testing.T) {
	dir := "/home/u/BookLore/data"
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"equals form", []string{"mariadbd", "--basedir=/opt", "--datadir=" + dir}, true},
		{"separate form", []string{"mariadbd", "--datadir", dir}, true},
		{"trailing slash", []string{"mariadbd", "--datadir=" + dir + "/"}, true},
		{"sibling with our prefix", []string{"mariadbd", "--datadir=" + dir + "2"}, false},
		{"nested dir", []string{"mariadbd", "--datadir=" + dir + "/sub"}, false},
		{"other server", []string{"mariadbd", "--datadir=/var/lib/mysql"}, false},
		{"dangling flag", []string{"mariadbd", "--datadir"}, false},
		{"no flag", []string{"mariadbd"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, servesDataDir(tt.args, dir))
		})
	}
}

// fakeServer runs a shell script named mariadbd, so the process name matches
// a database server, with the given data directory on its command line. The
// returned channel closes when it exits.
func fakeServer(t *testing.T, dataDir string) <-chan struct{} {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "mariadbd")
	script := "#!/bin/sh\ntrap 'exit 0' TERM\nwhile :; do sleep 0.1; done\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	cmd := exec.Command(bin, "--datadir="+dataDir)
	require.NoError(t, cmd.Start())
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		cmd.Process.Kill()
		<-exited
	})
	return exited
}

func TestReapStale_OnlyOurDataDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process names of scripts differ outside linux")
	}
	root := t.TempDir()
	ours := filepath.Join(root, "data")
	sibling := filepath.Join(root, "data2")

	stale := fakeServer(t, ours)
	other := fakeServer(t, sibling)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := ReapStale(ctx, ours)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case <-stale:
	case <-time.After(5 * time.Second):
		t.Fatal("stale server was not terminated")
	}
	select {
	case <-other:
		t.Fatal("server of another data dir was terminated")
	case <-time.After(200 * time.Millisecond):
	}
}
