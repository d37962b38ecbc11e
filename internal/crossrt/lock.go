package crossrt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"golang.org/x/sys/unix"
)

// runLock serialises provisioning runs that share scratch directories.
type runLock struct {
	f *os.File
}

// lockPath prefers the XDG runtime directory and falls back to the scratch root.
func lockPath(s *Settings) string {
	if dir := xdg.RuntimeDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return filepath.Join(dir, "crossrt.lock")
		}
	}
	return filepath.Join(s.ScratchRoot, ".crossrt.lock")
}

// acquireRunLock takes an exclusive, non-blocking lock on path.
func acquireRunLock(path string) (*runLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another crossrt run holds %s", path)
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	return &runLock{f: f}, nil
}

func (l *runLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}
