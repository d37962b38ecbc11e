package crossrt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
)

// ArchiveStore is an optional remote cache of downloaded package archives.
type ArchiveStore interface {
	// Restore copies a cached archive for pkg.arch into dir and returns its
	// path. It returns ErrPackageNotFound when nothing is cached.
	Restore(ctx context.Context, pkg, arch, dir string) (string, error)
	// Save uploads archivePath as the cached archive for pkg.arch.
	Save(ctx context.Context, pkg, arch, archivePath string) error
}

// FetchPackage downloads the runtime library package for arch into the
// repo's download directory using the isolated configuration, and returns
// the single matching archive. The repositories always win: store is only
// consulted when the download fails, and every fresh download refreshes it.
func FetchPackage(ctx context.Context, execCtx *Executor, s *Settings, repo *RepoContext, arch string, store ArchiveStore) (string, error) {
	e := execCtx.With(ctx)

	refresh := exec.Command(s.PkgManager, "-c", repo.ConfigPath, "check-update")
	if err := runTool(e, refresh, nil); err != nil {
		// check-update exits 100 when updates exist; any failure is non-fatal here.
		debugf("metadata refresh for %s ignored: %v\n", arch, err)
	}

	archive, err := downloadArchive(e, s, repo, arch)
	if err != nil {
		if store == nil || ctx.Err() != nil {
			return "", err
		}
		cached, restoreErr := restoreArchive(ctx, s, repo, arch, store)
		if restoreErr != nil {
			debugf("archive store fallback for %s.%s failed: %v\n", s.Package, arch, restoreErr)
			return "", err
		}
		cPrintf(colWarn, "Warning: download failed (%v); using cached %s\n", err, filepath.Base(cached))
		return cached, nil
	}

	if store != nil {
		if err := store.Save(ctx, s.Package, arch, archive); err != nil {
			cPrintf(colWarn, "Warning: could not upload %s to archive store: %v\n", filepath.Base(archive), err)
		}
	}
	return archive, nil
}

func downloadArchive(e *Executor, s *Settings, repo *RepoContext, arch string) (string, error) {
	download := exec.Command(s.PkgManager, "-c", repo.ConfigPath, "download", s.Package+"."+arch)
	download.Dir = repo.DownloadDir
	if err := runTool(e, download, nil); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return selectArchive(repo.DownloadDir, s.Package, arch)
}

// restoreArchive fetches the cached archive into a clean download directory.
func restoreArchive(ctx context.Context, s *Settings, repo *RepoContext, arch string, store ArchiveStore) (string, error) {
	if err := os.RemoveAll(repo.DownloadDir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(repo.DownloadDir, 0o755); err != nil {
		return "", err
	}
	path, err := store.Restore(ctx, s.Package, arch, repo.DownloadDir)
	if err != nil {
		return "", err
	}
	archive, err := selectArchive(repo.DownloadDir, s.Package, arch)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("cached archive %s unusable: %w", filepath.Base(path), err)
	}
	return archive, nil
}

// selectArchive returns the only file in dir named
// <pkg>-<version...>.<arch>.rpm whose version starts with a digit.
func selectArchive(dir, pkg, arch string) (string, error) {
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(pkg) + `-[0-9][^/]*\.` + regexp.QuoteMeta(arch) + `\.rpm$`)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	var matches []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && pattern.MatchString(entry.Name()) {
			matches = append(matches, entry.Name())
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s-*.%s.rpm in %s", ErrPackageNotFound, pkg, arch, dir)
	case 1:
		return filepath.Join(dir, matches[0]), nil
	default:
		return "", fmt.Errorf("%w: %d archives for %s.%s in %s: %v", ErrAmbiguousMatch, len(matches), pkg, arch, dir, matches)
	}
}
