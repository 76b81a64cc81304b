package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRoot_Ensure(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "BookLore"))
	if err := r.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	for _, dir := range []string{r.DataDir(), r.BooksDir(), r.ImportDir(), r.ConfigDir(), r.LogDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist", dir)
		}
	}

	// The runtime directory is reserved but only created by a successful install.
	if _, err := os.Stat(r.RuntimeDir()); !os.IsNotExist(err) {
		t.Errorf("Runtime dir should not be created by Ensure")
	}

	// Idempotent and non-destructive.
	marker := filepath.Join(r.DataDir(), "keep")
	os.WriteFile(marker, []byte("x"), 0644)
	if err := r.Ensure(); err != nil {
		t.Fatalf("Second Ensure failed: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("Ensure must not remove existing content")
	}
}

func TestRoot_EmptyDir(t *testing.T) {
	if err := New("").Ensure(); err == nil {
		t.Fatal("Expected error for empty root")
	}
}

func TestRoot_Paths(t *testing.T) {
	r := New("/data/BookLore")
	if r.SystemTablesDir() != "/data/BookLore/data/mysql" {
		t.Errorf("Unexpected system tables dir %s", r.SystemTablesDir())
	}
	if r.DatabaseSocket() != "/data/BookLore/mysql.sock" {
		t.Errorf("Unexpected socket path %s", r.DatabaseSocket())
	}
	if r.ApplicationLog() != "/data/BookLore/logs/backend.log" {
		t.Errorf("Unexpected app log %s", r.ApplicationLog())
	}
}
