// Package layout describes the app data root: the single directory tree that holds
// every piece of state the runner and its child processes keep across launches.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Root is the app data root. All paths are derived from Dir.
type Root struct {
	Dir string
}

func New(dir string) Root {
	return Root{Dir: dir}
}

// DataDir holds the database files.
func (r Root) DataDir() string { return filepath.Join(r.Dir, "data") }

// SystemTablesDir exists once the database has been initialized.
func (r Root) SystemTablesDir() string { return filepath.Join(r.DataDir(), "mysql") }

// BooksDir holds library content.
func (r Root) BooksDir() string { return filepath.Join(r.Dir, "books") }

// ImportDir is the drop folder watched by the application.
func (r Root) ImportDir() string { return filepath.Join(r.Dir, "bookdrop") }

// RuntimeDir is reserved for a downloaded Java runtime.
func (r Root) RuntimeDir() string { return filepath.Join(r.Dir, "jre") }

// BundledDatabaseDir is where a bundled MariaDB distribution is unpacked.
func (r Root) BundledDatabaseDir() string { return filepath.Join(r.Dir, "mariadb") }

// ConfigDir holds the application's configuration.
func (r Root) ConfigDir() string { return filepath.Join(r.Dir, "config") }

// LogDir holds per-run process logs.
func (r Root) LogDir() string { return filepath.Join(r.Dir, "logs") }

// DatabaseLog is truncated at the start of every run.
func (r Root) DatabaseLog() string { return filepath.Join(r.LogDir(), "mariadb.log") }

// ApplicationLog is truncated at the start of every run.
func (r Root) ApplicationLog() string { return filepath.Join(r.LogDir(), "backend.log") }

// DatabaseSocket is the only endpoint the database server listens on.
func (r Root) DatabaseSocket() string { return filepath.Join(r.Dir, "mysql.sock") }

// ControlSocket serves the local control API.
func (r Root) ControlSocket() string { return filepath.Join(r.Dir, "control.sock") }

// Ensure creates the directory tree. It never removes anything.
func (r Root) Ensure() error {
	if r.Dir == "" {
		return fmt.Errorf("app data root is not set")
	}
	for _, dir := range []string{
		r.Dir,
		r.DataDir(),
		r.BooksDir(),
		r.ImportDir(),
		r.ConfigDir(),
		r.LogDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Personal.AI order the ending
