package crossrt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// copyFile copies src's contents and permission bits to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile honours the umask; restore the exact bits.
	return os.Chmod(dst, info.Mode().Perm())
}

// copyTreeFollow copies src into dst, dereferencing symbolic links so that
// the result holds only real files and directories.
func copyTreeFollow(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := os.Stat(srcPath)
		if err != nil {
			if entry.Type()&os.ModeSymlink != 0 && errors.Is(err, os.ErrNotExist) {
				debugf("skipping dangling symlink %s\n", srcPath)
				continue
			}
			return err
		}

		switch {
		case info.IsDir():
			if err := copyTreeFollow(srcPath, dstPath); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		default:
			debugf("skipping special file %s\n", srcPath)
		}
	}
	return nil
}

// copyTreePreserve merges src into dst. Symbolic links are recreated
// verbatim; modes and modification times are kept. When chownRoot is set
// every created entry is owned by 0:0.
func copyTreePreserve(src, dst string, chownRoot bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := mkdirMerge(target, info.Mode().Perm()); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := replaceEntry(target); err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
			setLinkTimes(target, info.ModTime())
		case info.Mode().IsRegular():
			if err := replaceEntry(target); err != nil {
				return err
			}
			if err := copyFile(path, target); err != nil {
				return err
			}
			if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
				return err
			}
		default:
			debugf("skipping special file %s\n", path)
			return nil
		}

		if chownRoot {
			if err := unix.Lchown(target, 0, 0); err != nil {
				return fmt.Errorf("chown %s: %w", target, err)
			}
		}
		return nil
	})
}

// mkdirMerge creates dir, or accepts it when it already is a directory or
// a symlink to one.
func mkdirMerge(dir string, perm os.FileMode) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%s exists and is not a directory", dir)
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(dir, perm|0o700); err != nil {
		return err
	}
	return os.Chmod(dir, perm)
}

// replaceEntry removes a non-directory at path so it can be rewritten.
func replaceEntry(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s exists and is a directory", path)
	}
	return os.Remove(path)
}

func setLinkTimes(path string, mtime time.Time) {
	tv := unix.NsecToTimeval(mtime.UnixNano())
	if err := unix.Lutimes(path, []unix.Timeval{tv, tv}); err != nil {
		debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", path, err)
	}
}

// copyTreeAsRoot merges src into dst through the privileged executor.
func copyTreeAsRoot(src, dst string, execCtx *Executor) error {
	if err := runTool(execCtx, exec.Command("mkdir", "-p", dst), nil); err != nil {
		return err
	}
	return runTool(execCtx, exec.Command("cp", "-a", src+"/.", dst+"/"), nil)
}

// removeAllAsRoot removes path, escalating through execCtx on a permission error.
func removeAllAsRoot(path string, execCtx *Executor) error {
	err := os.RemoveAll(path)
	if err == nil || !os.IsPermission(err) || os.Geteuid() == 0 || execCtx == nil {
		return err
	}
	return runTool(execCtx, exec.Command("rm", "-rf", path), nil)
}

// renameAsRoot renames oldPath to newPath, escalating on a permission error.
func renameAsRoot(oldPath, newPath string, execCtx *Executor) error {
	err := os.Rename(oldPath, newPath)
	if err == nil || !os.IsPermission(err) || os.Geteuid() == 0 || execCtx == nil {
		return err
	}
	return runTool(execCtx, exec.Command("mv", oldPath, newPath), nil)
}
