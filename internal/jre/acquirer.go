// Package jre makes sure a Java runtime of the required feature version is
// available, downloading one into the app data root on first use.
package jre

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/turtacn/booklore-runner/internal/fetch"
	"github.com/turtacn/booklore-runner/internal/monitor"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/logger"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

// ProgressFunc receives progress in percent and a short message. A negative
// progress carries only a message.
type ProgressFunc = fetch.ProgressFunc

// JavaFinder resolves and checks java launchers.
type JavaFinder interface {
	Java() (string, error)
	VerifyJava(path string) error
}

// Acquirer installs a runtime into Dir when no compatible one is found.
type Acquirer struct {
	Dir     string
	Version int
	APIURL  string
	Client  *http.Client

	finder JavaFinder
	goos   string
	goarch string
}

// New returns an acquirer installing into dir. finder resolves system runtimes
// and verifies launchers.
func New(dir string, cfg protocol.RuntimeConfig, finder JavaFinder) *Acquirer {
	return &Acquirer{
		Dir:     dir,
		Version: cfg.JavaVersion,
		APIURL:  strings.TrimRight(cfg.APIURL, "/"),
		Client:  &http.Client{Timeout: cfg.DownloadTimeout},
		finder:  finder,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
	}
}

// Installed returns the launcher of a previously downloaded runtime, if it
// exists and reports the right version.
func (a *Acquirer) Installed() (string, bool) {
	for _, p := range launcherPaths(a.Dir) {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := a.finder.VerifyJava(p); err != nil {
			logger.Log.Warn("Ignoring installed runtime", "path", p, "err", err)
			continue
		}
		return p, true
	}
	return "", false
}

// Ensure returns the path of a usable java launcher. A runtime already in Dir or
// on the system is returned without any network activity. Otherwise the
// platform archive is downloaded and unpacked into Dir. Any failure leaves Dir
// absent and is an AcquisitionError.
func (a *Acquirer) Ensure(ctx context.Context, report ProgressFunc) (string, error) {
	if report == nil {
		report = func(int, string) {}
	}

	if p, ok := a.Installed(); ok {
		logger.Log.Info("Using installed Java runtime", "path", p)
		return p, nil
	}
	if p, err := a.finder.Java(); err == nil {
		logger.Log.Info("Using system Java runtime", "path", p)
		return p, nil
	}

	url, err := a.DownloadURL()
	if err != nil {
		return "", errors.New(errors.ErrCodeAcquisition, "resolve runtime", err.Error(), err)
	}

	report(0, fmt.Sprintf("Downloading Java %d runtime", a.Version))
	logger.Log.Info("Downloading Java runtime", "url", url)

	parent := filepath.Dir(a.Dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", errors.New(errors.ErrCodeAcquisition, "download runtime", "cannot create app data root", err)
	}
	archive, err := fetch.File(ctx, a.Client, url, parent, "jre-*.tar.gz", fetch.Progress{
		Label:  "Java runtime",
		Report: report,
		Count:  func(n int) { monitor.RuntimeDownloadBytes.Add(float64(n)) },
	})
	if err != nil {
		return "", errors.New(errors.ErrCodeAcquisition, "download runtime", "download failed", err)
	}
	defer os.Remove(archive)

	report(-1, "Extracting Java runtime")
	java, err := a.install(archive)
	if err != nil {
		os.RemoveAll(a.Dir)
		return "", errors.New(errors.ErrCodeAcquisition, "install runtime", "extraction failed", err)
	}

	report(100, "Java runtime installed")
	logger.Log.Info("Java runtime installed", "path", java)
	return java, nil
}

// DownloadURL returns the archive location for the current platform.
func (a *Acquirer) DownloadURL() (string, error) {
	var osName, arch string
	switch a.goos {
	case "darwin":
		osName = "mac"
	case "linux":
		osName = "linux"
	default:
		return "", fmt.Errorf("no runtime download for %s", a.goos)
	}
	switch a.goarch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "aarch64"
	default:
		return "", fmt.Errorf("no runtime download for %s", a.goarch)
	}
	return fmt.Sprintf("%s/%d/ga/%s/%s/jre/hotspot/normal/eclipse", a.APIURL, a.Version, osName, arch), nil
}

// install extracts archive next to Dir, moves the runtime into place and
// returns its verified launcher.
func (a *Acquirer) install(archive string) (string, error) {
	if err := fetch.Install(archive, a.Dir, "jdk"); err != nil {
		return "", err
	}
	for _, p := range launcherPaths(a.Dir) {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Chmod(p, 0755); err != nil {
			return "", err
		}
		if err := a.finder.VerifyJava(p); err != nil {
			return "", err
		}
		return p, nil
	}
	return "", fmt.Errorf("archive contains no java launcher")
}

// launcherPaths lists where a java launcher sits in a runtime home, macOS
// bundle layout first.
func launcherPaths(home string) []string {
	return []string{
		filepath.Join(home, "Contents", "Home", "bin", "java"),
		filepath.Join(home, "bin", "java"),
	}
}

// Personal.AI order the ending
