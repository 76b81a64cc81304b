package database

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/turtacn/booklore-runner/internal/fetch"
	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/logger"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

// toolDirs hold the executables of a MariaDB distribution.
var toolDirs = []string{"bin", "sbin", "scripts"}

// Bundle installs a private MariaDB distribution into Dir for hosts that have
// no server of their own. A distribution shipped with the runner is copied;
// without one the release archive for this platform is downloaded.
type Bundle struct {
	Dir       string
	SourceDir string
	URL       string
	Client    *http.Client

	log logger.Logger
}

// NewBundle returns a Bundle installing into dir.
func NewBundle(dir string, cfg protocol.DatabaseConfig) *Bundle {
	url := strings.ReplaceAll(cfg.ArchiveURL, "{version}", cfg.Version)
	if url == "" {
		url, _ = ArchiveURL(cfg.Version, runtime.GOOS, runtime.GOARCH)
	}
	return &Bundle{
		Dir:       dir,
		SourceDir: cfg.BundleDir,
		URL:       url,
		Client:    &http.Client{Timeout: cfg.DownloadTimeout},
		log:       logger.Log.With("component", "database"),
	}
}

// ArchiveURL returns the MariaDB release archive for a platform.
func ArchiveURL(version, goos, goarch string) (string, error) {
	var platform string
	switch goos + "/" + goarch {
	case "darwin/arm64":
		platform = "darwin-arm64"
	case "linux/amd64":
		platform = "linux-systemd-x86_64"
	default:
		return "", fmt.Errorf("no MariaDB release archive for %s/%s", goos, goarch)
	}
	return fmt.Sprintf("%s/mariadb-%s/bintar-%s/mariadb-%s-%s.tar.gz",
		consts.DefaultMariaDBArchive, version, platform, version, platform), nil
}

// Installed reports whether Dir already holds a server binary.
func (b *Bundle) Installed() bool {
	for _, sub := range toolDirs {
		if info, err := os.Stat(filepath.Join(b.Dir, sub, "mariadbd")); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// Ensure installs the distribution unless one is already in place. A failed
// install leaves Dir absent.
func (b *Bundle) Ensure(ctx context.Context, report fetch.ProgressFunc) error {
	if report == nil {
		report = func(int, string) {}
	}
	if b.Installed() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.Dir), 0755); err != nil {
		return errors.New(errors.ErrCodeInitialization, "install database", "cannot create app data root", err)
	}

	if info, err := os.Stat(b.SourceDir); b.SourceDir != "" && err == nil && info.IsDir() {
		report(-1, "Installing bundled database server")
		b.log.Info("Copying bundled MariaDB", "from", b.SourceDir, "to", b.Dir)
		if err := b.copyBundle(); err != nil {
			os.RemoveAll(b.Dir)
			return errors.New(errors.ErrCodeInitialization, "install database", "cannot copy bundled database server", err)
		}
		return b.finish()
	}

	if b.URL == "" {
		return errors.New(errors.ErrCodeNotFound, "install database",
			"MariaDB not found and no release archive for this platform; install it with `brew install mariadb` or your system package manager", nil)
	}

	report(0, "Downloading database server")
	b.log.Info("Downloading MariaDB", "url", b.URL)
	archive, err := fetch.File(ctx, b.Client, b.URL, filepath.Dir(b.Dir), "mariadb-*.tar.gz",
		fetch.Progress{Label: "database server", Report: report})
	if err != nil {
		return errors.New(errors.ErrCodeAcquisition, "download database", "download failed", err)
	}
	defer os.Remove(archive)

	report(-1, "Extracting database server")
	if err := fetch.Install(archive, b.Dir, "mariadb"); err != nil {
		os.RemoveAll(b.Dir)
		return errors.New(errors.ErrCodeAcquisition, "install database", "extraction failed", err)
	}
	if err := b.finish(); err != nil {
		return err
	}
	report(100, "Database server installed")
	return nil
}

// copyBundle copies SourceDir into a staging directory next to Dir and renames
// it into place.
func (b *Bundle) copyBundle() error {
	staging, err := os.MkdirTemp(filepath.Dir(b.Dir), filepath.Base(b.Dir)+"-copy-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	err = filepath.WalkDir(b.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.SourceDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(staging, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := os.RemoveAll(b.Dir); err != nil {
		return err
	}
	return os.Rename(staging, b.Dir)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// finish marks the distribution's tools executable and checks a server is
// present.
func (b *Bundle) finish() error {
	for _, sub := range toolDirs {
		entries, err := os.ReadDir(filepath.Join(b.Dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if err := os.Chmod(filepath.Join(b.Dir, sub, e.Name()), 0755); err != nil {
				os.RemoveAll(b.Dir)
				return errors.New(errors.ErrCodeInitialization, "install database", "cannot mark tools executable", err)
			}
		}
	}
	if !b.Installed() {
		os.RemoveAll(b.Dir)
		return errors.New(errors.ErrCodeInitialization, "install database", "distribution has no mariadbd", nil)
	}
	b.log.Info("MariaDB installed", "dir", b.Dir)
	return nil
}

// Personal.AI order the ending
