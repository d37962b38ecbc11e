package crossrt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSelectArchive(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    string
		wantErr error
	}{
		{
			name:  "single match",
			files: []string{"compiler-rt-18.1.8-1.el9.x86_64.rpm"},
			want:  "compiler-rt-18.1.8-1.el9.x86_64.rpm",
		},
		{
			name: "ignores similarly named packages and other arches",
			files: []string{
				"compiler-rt-devel-18.1.8-1.el9.x86_64.rpm",
				"compiler-rt-18.1.8-1.el9.aarch64.rpm",
				"compiler-rt-18.1.8-1.el9.x86_64.rpm",
				"compiler-rt-18.1.8-1.el9.x86_64.rpm.part",
			},
			want: "compiler-rt-18.1.8-1.el9.x86_64.rpm",
		},
		{
			name:    "nothing downloaded",
			files:   []string{"notes.txt"},
			wantErr: ErrPackageNotFound,
		},
		{
			name: "two versions",
			files: []string{
				"compiler-rt-17.0.6-1.el9.x86_64.rpm",
				"compiler-rt-18.1.8-1.el9.x86_64.rpm",
			},
			wantErr: ErrAmbiguousMatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				writeFile(t, filepath.Join(dir, f), "rpm")
			}
			got, err := selectArchive(dir, "compiler-rt", "x86_64")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if filepath.Base(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFetchPackageUsesIsolatedConfig(t *testing.T) {
	env := newTestEnv(t, "x86_64")
	repo, err := BuildIsolatedRepo(env.Settings, "x86_64")
	if err != nil {
		t.Fatal(err)
	}

	archive, err := FetchPackage(context.Background(), testExec(), env.Settings, repo, "x86_64", nil)
	if err != nil {
		t.Fatalf("FetchPackage: %v", err)
	}
	if filepath.Dir(archive) != repo.DownloadDir {
		t.Errorf("archive %s not in %s", archive, repo.DownloadDir)
	}

	log := readFile(t, env.DNFLog)
	if !strings.Contains(log, "-c "+repo.ConfigPath+" check-update") {
		t.Errorf("check-update not run against isolated config:\n%s", log)
	}
	if !strings.Contains(log, "-c "+repo.ConfigPath+" download compiler-rt.x86_64") {
		t.Errorf("download not run against isolated config:\n%s", log)
	}
}

func TestFetchPackageFailures(t *testing.T) {
	t.Run("download fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.Settings.PkgManager = writeScript(t, env.BinDir, "dnf-broken", `case "$3" in download) echo "No match for argument" >&2; exit 1 ;; esac`+"\n")
		repo, err := BuildIsolatedRepo(env.Settings, "x86_64")
		if err != nil {
			t.Fatal(err)
		}
		_, err = FetchPackage(context.Background(), testExec(), env.Settings, repo, "x86_64", nil)
		if !errors.Is(err, ErrFetch) || !errors.Is(err, ErrToolInvocation) {
			t.Fatalf("expected ErrFetch wrapping a tool error, got %v", err)
		}
	})

	t.Run("nothing downloaded", func(t *testing.T) {
		env := newTestEnv(t) // dnf succeeds without producing an archive
		repo, err := BuildIsolatedRepo(env.Settings, "x86_64")
		if err != nil {
			t.Fatal(err)
		}
		_, err = FetchPackage(context.Background(), testExec(), env.Settings, repo, "x86_64", nil)
		if !errors.Is(err, ErrPackageNotFound) {
			t.Fatalf("expected ErrPackageNotFound, got %v", err)
		}
	})
}

// memStore is an in-memory ArchiveStore.
type memStore struct {
	files    map[string][]byte // pkg.arch -> archive bytes
	names    map[string]string
	saved    []string
	restored int
	failGet  error
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}, names: map[string]string{}}
}

func (m *memStore) Restore(_ context.Context, pkg, arch, dir string) (string, error) {
	m.restored++
	if m.failGet != nil {
		return "", m.failGet
	}
	key := pkg + "." + arch
	data, ok := m.files[key]
	if !ok {
		return "", ErrPackageNotFound
	}
	path := filepath.Join(dir, m.names[key])
	return path, os.WriteFile(path, data, 0o644)
}

func (m *memStore) Save(_ context.Context, pkg, arch, archivePath string) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return err
	}
	key := pkg + "." + arch
	m.files[key] = data
	m.names[key] = filepath.Base(archivePath)
	m.saved = append(m.saved, key)
	return nil
}

func TestFetchPackageArchiveStore(t *testing.T) {
	env := newTestEnv(t, "x86_64")
	store := newMemStore()
	fetch := func(t *testing.T) (string, error) {
		t.Helper()
		repo, err := BuildIsolatedRepo(env.Settings, "x86_64")
		if err != nil {
			t.Fatal(err)
		}
		return FetchPackage(context.Background(), testExec(), env.Settings, repo, "x86_64", store)
	}

	// A working repository is always asked first; the result is uploaded.
	for i := 0; i < 2; i++ {
		if _, err := fetch(t); err != nil {
			t.Fatal(err)
		}
	}
	if store.restored != 0 {
		t.Errorf("store consulted %d time(s) although dnf succeeded", store.restored)
	}
	if got := env.dnfCalls(t, " download "); got != 2 {
		t.Errorf("dnf download ran %d time(s), want 2", got)
	}
	if len(store.saved) != 2 || store.saved[0] != "compiler-rt.x86_64" {
		t.Fatalf("archives not saved: %v", store.saved)
	}

	// With the repositories unreachable the cached archive is used.
	env.Settings.PkgManager = writeScript(t, env.BinDir, "dnf-offline", `case "$3" in download) echo "Curl error (6)" >&2; exit 1 ;; esac`+"\n")
	archive, err := fetch(t)
	if err != nil {
		t.Fatalf("expected cached archive, got %v", err)
	}
	if filepath.Base(archive) != "compiler-rt-18.1.8-1.el9.x86_64.rpm" {
		t.Errorf("restored archive = %s", archive)
	}

	// A broken store keeps the download error.
	store.failGet = errors.New("bucket unreachable")
	if _, err := fetch(t); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected the download error, got %v", err)
	}
}
