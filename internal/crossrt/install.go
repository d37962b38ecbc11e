package crossrt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// InstallTripleDir copies the located triple directory into the install root
// at the same path it has below extractRoot, merging with anything already
// there. It returns the destination directory.
func InstallTripleDir(s *Settings, execCtx *Executor, located, extractRoot string) (string, error) {
	rel, err := filepath.Rel(extractRoot, located)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s is not below %s", ErrInstall, located, extractRoot)
	}
	dest := filepath.Join(s.InstallRoot, rel)

	info, err := os.Stat(dest)
	switch {
	case err == nil && !info.IsDir():
		return "", fmt.Errorf("%w: %s exists and is not a directory", ErrInstall, dest)
	case err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrPermission):
		return "", fmt.Errorf("%w: %v", ErrInstall, err)
	}

	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	asRoot := os.Geteuid() == 0
	err = copyTreePreserve(located, dest, asRoot)
	if err == nil {
		return dest, nil
	}

	if !errors.Is(err, fs.ErrPermission) || asRoot || !s.UseSudo || execCtx == nil {
		return "", fmt.Errorf("%w: %v", ErrInstall, err)
	}

	debugf("native install into %s failed (%v); retrying through sudo\n", dest, err)
	if err := copyTreeAsRoot(located, dest, execCtx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInstall, err)
	}
	return dest, nil
}
