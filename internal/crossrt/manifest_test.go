package crossrt

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestManifestEntryRoundTripAndVerify(t *testing.T) {
	src := filepath.Join(t.TempDir(), "x86_64-redhat-linux-gnu")
	writeFile(t, filepath.Join(src, testLibName), "builtins")
	writeFile(t, filepath.Join(src, "crtbegin.o"), "crt")
	if err := os.Symlink("crtbegin.o", filepath.Join(src, "clang_rt.crtbegin.o")); err != nil {
		t.Fatal(err)
	}

	// The destination already holds a file the package does not ship.
	dest := filepath.Join(t.TempDir(), "x86_64-redhat-linux-gnu")
	writeFile(t, filepath.Join(dest, "local", "libfoo.a"), "foreign")
	if err := copyTreePreserve(src, dest, false); err != nil {
		t.Fatal(err)
	}

	entry, err := newManifestEntry("x86_64", "x86_64-redhat-linux-gnu", "/scratch/RPMs/compiler-rt-18.1.8-1.el9.x86_64.rpm", src, dest)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Archive != "compiler-rt-18.1.8-1.el9.x86_64.rpm" {
		t.Errorf("Archive = %q", entry.Archive)
	}
	if len(entry.Files) != 3 {
		t.Fatalf("got %d files: %+v", len(entry.Files), entry.Files)
	}
	for _, f := range entry.Files {
		if filepath.Dir(f.Path) != dest {
			t.Errorf("%s recorded outside %s", f.Path, dest)
		}
		isLink := filepath.Base(f.Path) == "clang_rt.crtbegin.o"
		if isLink && f.Blake3 != symlinkChecksum {
			t.Errorf("symlink %s recorded as %s", f.Path, f.Blake3)
		}
		if !isLink && len(f.Blake3) != 64 {
			t.Errorf("%s: digest %q is not a 256-bit hex string", f.Path, f.Blake3)
		}
	}

	path := filepath.Join(t.TempDir(), "state", "installed.yaml")
	m := &Manifest{}
	m.Record(entry)
	if err := m.save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := loadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := loaded.Lookup("x86_64")
	if !ok {
		t.Fatal("entry lost on reload")
	}
	if !got.InstalledAt.Equal(entry.InstalledAt) {
		t.Errorf("InstalledAt = %v, want %v", got.InstalledAt, entry.InstalledAt)
	}
	got.InstalledAt = entry.InstalledAt
	if !reflect.DeepEqual(got, entry) {
		t.Errorf("reloaded entry differs:\n got %+v\nwant %+v", got, entry)
	}

	changed, err := got.verify()
	if err != nil || len(changed) != 0 {
		t.Fatalf("fresh install reported changes: %v %v", changed, err)
	}

	writeFile(t, filepath.Join(dest, testLibName), "tampered")
	if err := os.Remove(filepath.Join(dest, "clang_rt.crtbegin.o")); err != nil {
		t.Fatal(err)
	}
	changed, err = got.verify()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dest, "clang_rt.crtbegin.o"),
		filepath.Join(dest, testLibName),
	}
	if !reflect.DeepEqual(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
}

func TestManifestRecordReplacesArch(t *testing.T) {
	m := &Manifest{}
	m.Record(ManifestEntry{Arch: "x86_64", Archive: "old.rpm"})
	m.Record(ManifestEntry{Arch: "ppc64le", Archive: "p.rpm"})
	m.Record(ManifestEntry{Arch: "x86_64", Archive: "new.rpm"})

	if len(m.Installs) != 2 {
		t.Fatalf("got %d entries", len(m.Installs))
	}
	if m.Installs[0].Arch != "ppc64le" {
		t.Errorf("entries not sorted: %+v", m.Installs)
	}
	if e, _ := m.Lookup("x86_64"); e.Archive != "new.rpm" {
		t.Errorf("x86_64 entry = %+v", e)
	}
	if _, ok := m.Lookup("s390x"); ok {
		t.Error("unexpected entry for s390x")
	}
}

func TestLoadManifestErrors(t *testing.T) {
	m, err := loadManifest(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || len(m.Installs) != 0 {
		t.Fatalf("missing manifest: %+v %v", m, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "installs: [unterminated")
	if _, err := loadManifest(bad); err == nil {
		t.Fatal("expected parse error")
	}
}
