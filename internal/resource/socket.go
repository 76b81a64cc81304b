package resource

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/turtacn/booklore-runner/pkg/logger"
)

// ErrSocketInUse is returned when a socket path still has a live listener.
var ErrSocketInUse = errors.New("socket is accepting connections")

const dialTimeout = 500 * time.Millisecond

// SocketFile is a unix domain socket path on disk. A file at the path is not
// proof of a live listener; only a successful connect is.
type SocketFile struct {
	Path string
}

func NewSocketFile(path string) *SocketFile {
	return &SocketFile{Path: path}
}

// Exists reports whether anything is present at the path.
func (s *SocketFile) Exists() bool {
	_, err := os.Lstat(s.Path)
	return err == nil
}

// IsSocket reports whether the path is a socket inode.
func (s *SocketFile) IsSocket() bool {
	var stat unix.Stat_t
	if err := unix.Lstat(s.Path, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFSOCK
}

// Dialable reports whether a listener accepts connections on the path.
func (s *SocketFile) Dialable() bool {
	conn, err := net.DialTimeout("unix", s.Path, dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// RemoveStale deletes a leftover socket file from an unclean shutdown. A path
// that still accepts connections is left alone and reported as ErrSocketInUse.
func (s *SocketFile) RemoveStale() (bool, error) {
	if !s.Exists() {
		return false, nil
	}
	if s.Dialable() {
		return false, fmt.Errorf("%s: %w", s.Path, ErrSocketInUse)
	}
	logger.Log.Info("Removing stale socket file", "path", s.Path)
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

// Remove deletes the socket file unconditionally. A missing file is not an error.
func (s *SocketFile) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Listen binds a new listener on the path, clearing a stale file first. The socket
// is restricted to the current user.
func (s *SocketFile) Listen() (net.Listener, error) {
	if _, err := s.RemoveStale(); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", s.Path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.Path, 0600); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Personal.AI order the ending
