// Package locator finds the external executables the runner depends on: the
// MariaDB server, client and install tool, and a Java launcher of a given
// feature version.
//
// Candidates are probed in a fixed order: the package manager's reported prefix,
// a list of common install directories, the inherited PATH, and finally the copy
// bundled under the app data root. Probing never modifies anything.
package locator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

// Tool is a logical executable name.
type Tool int

const (
	DatabaseServer Tool = iota
	DatabaseClient
	InstallTool
	JavaLauncher
)

// Tools lists every tool the runner needs.
var Tools = []Tool{DatabaseServer, DatabaseClient, InstallTool, JavaLauncher}

func (t Tool) String() string {
	switch t {
	case DatabaseServer:
		return "database server"
	case DatabaseClient:
		return "database client"
	case InstallTool:
		return "install tool"
	case JavaLauncher:
		return "java"
	}
	return "unknown tool"
}

// binaryNames returns the executable names for t, preferred first.
func (t Tool) binaryNames() []string {
	switch t {
	case DatabaseServer:
		return []string{"mariadbd", "mysqld"}
	case DatabaseClient:
		return []string{"mariadb", "mysql"}
	case InstallTool:
		return []string{"mariadb-install-db", "mysql_install_db"}
	case JavaLauncher:
		return []string{"java"}
	}
	return nil
}

// subdirs are searched below each database prefix.
var subdirs = []string{"bin", "sbin", "libexec", "scripts"}

// DefaultPrefixes are common MariaDB install prefixes.
var DefaultPrefixes = []string{
	"/opt/homebrew/opt/mariadb",
	"/usr/local/opt/mariadb",
	"/opt/homebrew",
	"/usr/local",
	"/usr/local/mysql",
	"/usr",
}

// DefaultJavaGlobs are common Java install locations.
var DefaultJavaGlobs = []string{
	"/Library/Java/JavaVirtualMachines/*/Contents/Home/bin/java",
	"/opt/homebrew/opt/openjdk*/bin/java",
	"/usr/local/opt/openjdk*/bin/java",
	"/usr/lib/jvm/*/bin/java",
}

// Installation is one MariaDB distribution resolved from a single prefix. The
// install step and the server are always run from the same Installation, so the
// base directory a data dir was initialized against is the one it is served with.
type Installation struct {
	BaseDir     string `json:"base_dir"`
	Server      string `json:"server"`
	Client      string `json:"client"`
	InstallTool string `json:"install_tool"`
}

// Validate checks that every executable lives under BaseDir.
func (i Installation) Validate() error {
	if i.BaseDir == "" {
		return fmt.Errorf("installation has no base directory")
	}
	for _, p := range []string{i.Server, i.Client, i.InstallTool} {
		if p == "" {
			return fmt.Errorf("installation under %s is incomplete", i.BaseDir)
		}
		rel, err := filepath.Rel(i.BaseDir, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%s is outside base directory %s", p, i.BaseDir)
		}
	}
	return nil
}

// Locator resolves tools to absolute paths.
type Locator struct {
	// BaseDir pins the database prefix; when set no other prefix is probed.
	BaseDir string
	// BundledDir is the app data root's copy of MariaDB, probed last.
	BundledDir string
	// JavaVersion is the required Java feature version; 0 accepts any.
	JavaVersion int

	Prefixes  []string
	JavaGlobs []string

	javaHomeTool string
	lookPath     func(string) (string, error)
	runOutput    func(name string, args ...string) ([]byte, error)
	getenv       func(string) string
}

// New returns a Locator with the default search lists.
func New(bundledDir string, javaVersion int) *Locator {
	return &Locator{
		BundledDir:  bundledDir,
		JavaVersion: javaVersion,
		Prefixes:    DefaultPrefixes,
		JavaGlobs:   DefaultJavaGlobs,

		javaHomeTool: "/usr/libexec/java_home",
		lookPath:     exec.LookPath,
		runOutput:    runOutput,
		getenv:       os.Getenv,
	}
}

func runOutput(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Locate returns the absolute path of tool or a NotFound error.
func (l *Locator) Locate(tool Tool) (string, error) {
	switch tool {
	case DatabaseServer, DatabaseClient, InstallTool:
		inst, err := l.Installation()
		if err != nil {
			return "", err
		}
		switch tool {
		case DatabaseServer:
			return inst.Server, nil
		case DatabaseClient:
			return inst.Client, nil
		default:
			return inst.InstallTool, nil
		}
	case JavaLauncher:
		return l.Java()
	}
	return "", errors.New(errors.ErrCodeNotFound, "locate", fmt.Sprintf("unknown tool %d", int(tool)), nil)
}

// Installation resolves the server, client and install tool from the first prefix
// that carries all three.
func (l *Locator) Installation() (Installation, error) {
	for _, prefix := range l.databasePrefixes() {
		inst, ok := l.probePrefix(prefix)
		if !ok {
			continue
		}
		if err := inst.Validate(); err != nil {
			logger.Log.Debug("Locator: rejecting installation", "prefix", prefix, "err", err)
			continue
		}
		logger.Log.Debug("Locator: using MariaDB installation", "basedir", inst.BaseDir)
		return inst, nil
	}
	return Installation{}, errors.New(errors.ErrCodeNotFound, "locate mariadb",
		"MariaDB not found; install it with `brew install mariadb` or your system package manager", nil)
}

func (l *Locator) databasePrefixes() []string {
	if l.BaseDir != "" {
		return []string{l.BaseDir}
	}

	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" {
			return
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	// (a) package manager
	if _, err := l.lookPath("brew"); err == nil {
		if b, err := l.runOutput("brew", "--prefix", "mariadb"); err == nil {
			add(strings.TrimSpace(string(b)))
		}
	}
	// (b) common install dirs
	for _, p := range l.Prefixes {
		add(p)
	}
	// (c) PATH
	for _, name := range DatabaseServer.binaryNames() {
		if p, err := l.lookPath(name); err == nil {
			if resolved, err := filepath.EvalSymlinks(p); err == nil {
				p = resolved
			}
			add(filepath.Dir(filepath.Dir(p)))
		}
	}
	add(l.BundledDir)
	return out
}

func (l *Locator) probePrefix(prefix string) (Installation, bool) {
	inst := Installation{BaseDir: prefix}
	var ok bool
	if inst.Server, ok = findUnder(prefix, DatabaseServer); !ok {
		return inst, false
	}
	if inst.Client, ok = findUnder(prefix, DatabaseClient); !ok {
		return inst, false
	}
	if inst.InstallTool, ok = findUnder(prefix, InstallTool); !ok {
		return inst, false
	}
	return inst, true
}

func findUnder(prefix string, tool Tool) (string, bool) {
	for _, name := range tool.binaryNames() {
		for _, sub := range subdirs {
			p := filepath.Join(prefix, sub, name)
			if isExecutable(p) {
				return p, true
			}
		}
	}
	return "", false
}

// Java resolves a java launcher of the configured feature version. A launcher of
// any other version is skipped, never substituted.
func (l *Locator) Java() (string, error) {
	for _, candidate := range l.javaCandidates() {
		if !isExecutable(candidate) {
			continue
		}
		if err := l.VerifyJava(candidate); err != nil {
			logger.Log.Debug("Locator: skipping java", "path", candidate, "err", err)
			continue
		}
		return candidate, nil
	}
	msg := "no Java runtime found"
	if l.JavaVersion > 0 {
		msg = fmt.Sprintf("no Java %d runtime found; install a Java %d runtime", l.JavaVersion, l.JavaVersion)
	}
	return "", errors.New(errors.ErrCodeNotFound, "locate java", msg, nil)
}

func (l *Locator) javaCandidates() []string {
	var out []string

	// (a) package manager
	if l.javaHomeTool != "" && isExecutable(l.javaHomeTool) {
		args := []string{}
		if l.JavaVersion > 0 {
			args = append(args, "-v", strconv.Itoa(l.JavaVersion))
		}
		if b, err := l.runOutput(l.javaHomeTool, args...); err == nil {
			out = append(out, filepath.Join(strings.TrimSpace(string(b)), "bin", "java"))
		}
	}
	if home := l.getenv("JAVA_HOME"); home != "" {
		out = append(out, filepath.Join(home, "bin", "java"))
	}
	// (b) common install dirs
	for _, pattern := range l.JavaGlobs {
		matches, _ := filepath.Glob(pattern)
		out = append(out, matches...)
	}
	// (c) PATH
	if p, err := l.lookPath("java"); err == nil {
		out = append(out, p)
	}
	return out
}

// VerifyJava runs `java -version` and checks the feature version.
func (l *Locator) VerifyJava(path string) error {
	out, err := l.runOutput(path, "-version")
	if err != nil {
		return fmt.Errorf("%s -version: %w", path, err)
	}
	if l.JavaVersion == 0 {
		return nil
	}
	v, err := ParseJavaVersion(string(out))
	if err != nil {
		return err
	}
	if v != l.JavaVersion {
		return fmt.Errorf("java %d does not match required %d", v, l.JavaVersion)
	}
	return nil
}

// JavaHome returns the runtime home for a launcher at <home>/bin/java.
func JavaHome(javaPath string) string {
	return filepath.Dir(filepath.Dir(javaPath))
}

var versionRe = regexp.MustCompile(`version "([^"]+)"`)

// ParseJavaVersion extracts the feature version from `java -version` output.
// Legacy "1.x" versions map to x.
func ParseJavaVersion(output string) (int, error) {
	m := versionRe.FindStringSubmatch(output)
	if m == nil {
		return 0, fmt.Errorf("unrecognised java -version output")
	}
	parts := strings.FieldsFunc(m[1], func(r rune) bool { return r == '.' || r == '_' || r == '-' || r == '+' })
	if len(parts) == 0 {
		return 0, fmt.Errorf("empty java version")
	}
	if parts[0] == "1" && len(parts) > 1 {
		parts = parts[1:]
	}
	return strconv.Atoi(parts[0])
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0
}

// Finding is one line of a Report.
type Finding struct {
	Tool Tool
	Path string
	Err  error
}

// Report resolves every tool, for diagnostics.
func (l *Locator) Report() []Finding {
	findings := make([]Finding, 0, len(Tools))
	for _, t := range Tools {
		p, err := l.Locate(t)
		findings = append(findings, Finding{Tool: t, Path: p, Err: err})
	}
	return findings
}

// Personal.AI order the ending
