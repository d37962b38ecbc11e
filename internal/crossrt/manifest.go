package crossrt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the persisted record of runtime libraries this tool installed.
type Manifest struct {
	Installs []ManifestEntry `yaml:"installs"`
}

// ManifestEntry records one architecture's install.
type ManifestEntry struct {
	Arch        string         `yaml:"arch"`
	Triple      string         `yaml:"triple"`
	Archive     string         `yaml:"archive"`
	Path        string         `yaml:"path"`
	InstalledAt time.Time      `yaml:"installed_at"`
	Files       []ManifestFile `yaml:"files"`
}

// ManifestFile is an installed file and its BLAKE3 digest.
type ManifestFile struct {
	Path   string `yaml:"path"`
	Blake3 string `yaml:"blake3"`
}

// loadManifest reads path; a missing file yields an empty manifest.
func loadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// save writes the manifest atomically.
func (m *Manifest) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".installed-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Record adds entry, replacing any earlier entry for the same architecture.
func (m *Manifest) Record(entry ManifestEntry) {
	for i := range m.Installs {
		if m.Installs[i].Arch == entry.Arch {
			m.Installs[i] = entry
			return
		}
	}
	m.Installs = append(m.Installs, entry)
	sort.Slice(m.Installs, func(i, j int) bool { return m.Installs[i].Arch < m.Installs[j].Arch })
}

// Lookup returns the entry for arch, if any.
func (m *Manifest) Lookup(arch string) (ManifestEntry, bool) {
	for _, e := range m.Installs {
		if e.Arch == arch {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// newManifestEntry hashes the files installed under dest from the located
// package tree src. Entries of dest that src does not provide are left out.
func newManifestEntry(arch, triple, archive, src, dest string) (ManifestEntry, error) {
	entry := ManifestEntry{
		Arch:        arch,
		Triple:      triple,
		Archive:     filepath.Base(archive),
		Path:        dest,
		InstalledAt: time.Now().UTC().Truncate(time.Second),
	}

	var files []string
	symlinks := make(map[string]bool)
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		installed := filepath.Join(dest, rel)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			symlinks[installed] = true
			files = append(files, installed)
		case d.Type().IsRegular():
			files = append(files, installed)
		}
		return nil
	})
	if err != nil {
		return entry, err
	}

	var toHash []string
	for _, p := range files {
		if !symlinks[p] {
			toHash = append(toHash, p)
		}
	}
	sums, err := ComputeChecksums(toHash)
	if err != nil {
		return entry, fmt.Errorf("failed to compute checksums: %w", err)
	}

	for _, p := range files {
		sum := symlinkChecksum
		if !symlinks[p] {
			var ok bool
			if sum, ok = sums[p]; !ok {
				return entry, fmt.Errorf("missing checksum for %s", p)
			}
		}
		entry.Files = append(entry.Files, ManifestFile{Path: p, Blake3: sum})
	}
	return entry, nil
}

// verify returns the recorded files that are missing or whose digest changed.
func (e ManifestEntry) verify() ([]string, error) {
	var paths []string
	for _, f := range e.Files {
		if f.Blake3 != symlinkChecksum {
			paths = append(paths, f.Path)
		}
	}

	var present []string
	var changed []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			changed = append(changed, p)
			continue
		}
		present = append(present, p)
	}

	sums, err := ComputeChecksums(present)
	if err != nil {
		return nil, err
	}
	for _, f := range e.Files {
		if f.Blake3 == symlinkChecksum {
			if _, err := os.Lstat(f.Path); err != nil {
				changed = append(changed, f.Path)
			}
			continue
		}
		if sum, ok := sums[f.Path]; ok && sum != f.Blake3 {
			changed = append(changed, f.Path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
