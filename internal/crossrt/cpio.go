package crossrt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	cpioHeaderSize = 110
	cpioTrailer    = "TRAILER!!!"

	cpioTypeMask = 0o170000
	cpioTypeDir  = 0o040000
	cpioTypeReg  = 0o100000
	cpioTypeLink = 0o120000
)

// cpioHeader is a decoded "newc" (070701) or "crc" (070702) entry header.
type cpioHeader struct {
	Ino      uint64
	Mode     uint64
	Nlink    uint64
	Mtime    int64
	FileSize int64
	DevMajor uint64
	DevMinor uint64
	Name     string
}

type hardlinkKey struct {
	dev, ino uint64
}

type pendingDir struct {
	path  string
	mode  os.FileMode
	mtime time.Time
}

// extractCpio unpacks a newc cpio stream into dest. Entries whose names
// would land outside dest are refused.
func extractCpio(r io.Reader, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if dest, err = filepath.EvalSymlinks(dest); err != nil {
		return err
	}

	var dirs []pendingDir
	links := make(map[hardlinkKey][]string)

	for {
		hdr, err := readCpioHeader(r)
		if err != nil {
			return err
		}
		if hdr.Name == cpioTrailer {
			break
		}

		rel, err := cpioRelPath(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "." {
			if _, err := io.CopyN(io.Discard, r, align4(hdr.FileSize)); err != nil {
				return err
			}
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		perm := os.FileMode(hdr.Mode & 0o7777)
		mtime := time.Unix(hdr.Mtime, 0)

		if err := ensureWithin(dest, filepath.Dir(target)); err != nil {
			return fmt.Errorf("illegal file path in archive: %s: %w", hdr.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", target, err)
		}

		switch hdr.Mode & cpioTypeMask {
		case cpioTypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
			dirs = append(dirs, pendingDir{target, perm, mtime})
			if err := skipData(r, hdr.FileSize); err != nil {
				return err
			}

		case cpioTypeLink:
			buf := make([]byte, hdr.FileSize)
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("reading link target of %s: %w", hdr.Name, err)
			}
			if err := skipPadding(r, hdr.FileSize); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(string(buf), target); err != nil {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", target, buf, err)
			}
			setLinkTimes(target, mtime)

		case cpioTypeReg:
			key := hardlinkKey{hdr.DevMajor<<32 | hdr.DevMinor, hdr.Ino}
			// Hard-linked files carry their data on the last link only.
			if hdr.Nlink > 1 && hdr.FileSize == 0 {
				links[key] = append(links[key], target)
				continue
			}
			if err := writeCpioFile(r, target, hdr.FileSize, perm, mtime); err != nil {
				return err
			}
			for _, other := range links[key] {
				_ = os.Remove(other)
				if err := os.Link(target, other); err != nil {
					return fmt.Errorf("failed to link %s: %w", other, err)
				}
			}
			delete(links, key)

		default:
			debugf("Skipping unsupported cpio entry %s (mode %o)\n", hdr.Name, hdr.Mode)
			if err := skipData(r, hdr.FileSize); err != nil {
				return err
			}
		}
	}

	// Link groups that never received data are empty files.
	for _, group := range links {
		for _, p := range group {
			if err := os.WriteFile(p, nil, 0o644); err != nil {
				return err
			}
		}
	}

	// Directory modes last so read-only directories can still be filled.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return err
		}
		_ = os.Chtimes(d.path, d.mtime, d.mtime)
	}
	return nil
}

func readCpioHeader(r io.Reader) (*cpioHeader, error) {
	raw := make([]byte, cpioHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("cpio stream ended without trailer")
		}
		return nil, fmt.Errorf("reading cpio header: %w", err)
	}
	magic := string(raw[:6])
	if magic != "070701" && magic != "070702" {
		return nil, fmt.Errorf("unsupported cpio magic %q", magic)
	}

	var fields [13]uint64
	for i := range fields {
		off := 6 + i*8
		v, err := strconv.ParseUint(string(raw[off:off+8]), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad cpio header field %d: %w", i, err)
		}
		fields[i] = v
	}

	nameSize := int64(fields[11])
	if nameSize == 0 || nameSize > 4096 {
		return nil, fmt.Errorf("bad cpio name size %d", nameSize)
	}
	name := make([]byte, nameSize)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("reading cpio name: %w", err)
	}
	if pad := align4(cpioHeaderSize+nameSize) - (cpioHeaderSize + nameSize); pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, err
		}
	}

	return &cpioHeader{
		Ino:      fields[0],
		Mode:     fields[1],
		Nlink:    fields[4],
		Mtime:    int64(fields[5]),
		FileSize: int64(fields[6]),
		DevMajor: fields[7],
		DevMinor: fields[8],
		Name:     strings.TrimRight(string(name), "\x00"),
	}, nil
}

// cpioRelPath turns an archive name into a clean slash path below the
// extraction root.
func cpioRelPath(name string) (string, error) {
	rel := path.Clean(strings.TrimLeft(name, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return rel, nil
}

// ensureWithin fails when the deepest existing ancestor of dir resolves,
// through symlinks created by earlier entries, to a location outside root.
func ensureWithin(root, dir string) error {
	existing := dir
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s resolves outside %s", dir, root)
	}
	return nil
}

func writeCpioFile(r io.Reader, target string, size int64, perm os.FileMode, mtime time.Time) error {
	_ = os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := skipPadding(r, size); err != nil {
		return err
	}
	if err := os.Chmod(target, perm); err != nil {
		return err
	}
	return os.Chtimes(target, mtime, mtime)
}

func skipData(r io.Reader, size int64) error {
	_, err := io.CopyN(io.Discard, r, align4(size))
	return err
}

func skipPadding(r io.Reader, size int64) error {
	if pad := align4(size) - size; pad > 0 {
		_, err := io.CopyN(io.Discard, r, pad)
		return err
	}
	return nil
}

func align4(n int64) int64 { return (n + 3) &^ 3 }
