package appserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/booklore-runner/pkg/errors"
)

const importWorkers = 4

// Import hands files to the application by copying them into the drop folder it
// watches. Paths that are missing or not regular files are skipped. It returns
// the number of files accepted, failing only when none could be.
func (s *Supervisor) Import(ctx context.Context, paths []string) (int, error) {
	s.mu.Lock()
	dir := s.importDir
	s.mu.Unlock()

	if dir == "" {
		return 0, errors.New(errors.ErrCodeNotReady, "import", "application has not been started", nil)
	}
	if len(paths) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.New(errors.ErrCodeImport, "import", "import folder unavailable", err)
	}

	var (
		accepted atomic.Int32
		mu       sync.Mutex
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importWorkers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.importFile(dir, p, &mu); err != nil {
				s.log.Warn("Skipping file", "path", p, "err", err)
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return nil
			}
			accepted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(accepted.Load()), errors.New(errors.ErrCodeImport, "import", "import interrupted", err)
	}

	n := int(accepted.Load())
	if n == 0 {
		return 0, errors.New(errors.ErrCodeImport, "import", "no files could be imported", lastErr)
	}
	s.log.Info("Imported files", "accepted", n, "requested", len(paths))
	return n, nil
}

// importFile copies src into dir under a free name. The file appears under its
// final name only once fully written.
func (s *Supervisor) importFile(dir, src string, names *sync.Mutex) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	names.Lock()
	defer names.Unlock()
	dst := freeName(dir, filepath.Base(src))
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Chmod(dst, 0644)
}

// freeName returns dir/base, or dir/"stem (n).ext" if that is taken.
func freeName(dir, base string) string {
	dst := filepath.Join(dir, base)
	if _, err := os.Lstat(dst); os.IsNotExist(err) {
		return dst
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		dst = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		if _, err := os.Lstat(dst); os.IsNotExist(err) {
			return dst
		}
	}
}

// Personal.AI order the ending
