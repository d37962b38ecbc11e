package crossrt

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const (
	testSuffix  = PlatformSuffix("redhat-linux-gnu")
	testLibName = "libclang_rt.builtins.a"
)

// writeScript creates an executable shell script in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

// fakeClang answers --print-libgcc-file-name below installRoot the way clang
// on an RPM host does: with --rtlib=compiler-rt it names the compiler-rt
// builtins for the --target triple (host triple by default), otherwise gcc's
// libgcc.a.
func fakeClang(t *testing.T, binDir, installRoot string) string {
	t.Helper()
	return writeScript(t, binDir, "clang", fmt.Sprintf(`target=aarch64-redhat-linux-gnu
rtlib=
for a in "$@"; do
	case "$a" in
	--target=*) target="${a#--target=}" ;;
	--rtlib=*) rtlib="${a#--rtlib=}" ;;
	esac
done
if [ "$rtlib" = "compiler-rt" ]; then
	echo "%[1]s/usr/lib/clang/18/lib/$target/%[2]s"
else
	echo "%[1]s/usr/lib/gcc/${target%%-gnu}/13/libgcc.a"
fi
`, installRoot, testLibName))
}

// fakeDNF logs every invocation to logPath and, for `download <pkg>.<arch>`,
// copies fixture into the working directory when arch is one of archs.
func fakeDNF(t *testing.T, binDir, logPath, fixture string, archs ...string) string {
	t.Helper()
	return writeScript(t, binDir, "dnf", fmt.Sprintf(`echo "$@" >> '%s'
if [ "$1" = "download" ]; then exit 0; fi
case "$3" in
check-update) exit 100 ;;
download)
	arch="${4##*.}"
	for a in %s; do
		if [ "$a" = "$arch" ]; then
			cp '%s' "./compiler-rt-18.1.8-1.el9.$arch.rpm"
		fi
	done
	exit 0
	;;
esac
exit 0
`, logPath, strings.Join(archs, " "), fixture))
}

// fakeExtractTools stands in for rpm2cpio and cpio with cat and tar, so the
// fixture "rpm" is a plain tar archive.
func fakeExtractTools(t *testing.T, binDir string) (rpm2cpio, cpio string) {
	t.Helper()
	rpm2cpio = writeScript(t, binDir, "rpm2cpio", "exec cat \"$1\"\n")
	cpio = writeScript(t, binDir, "cpio", "exec tar -xf -\n")
	return rpm2cpio, cpio
}

type tarEntry struct {
	Name     string
	Body     string
	Linkname string
	Dir      bool
}

func writeTarFixture(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, ModTime: mtime, Mode: 0o644}
		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.Linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Linkname
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// runtimeFixture is the payload of a compiler-rt package for x86_64.
func runtimeFixture(triple string) []tarEntry {
	dir := "./usr/lib/clang/18/lib/" + triple
	return []tarEntry{
		{Name: "./usr/", Dir: true},
		{Name: "./usr/lib/", Dir: true},
		{Name: "./usr/lib/clang/", Dir: true},
		{Name: "./usr/lib/clang/18/", Dir: true},
		{Name: "./usr/lib/clang/18/lib/", Dir: true},
		{Name: dir + "/", Dir: true},
		{Name: dir + "/" + testLibName, Body: "!<arch>\nbuiltins"},
		{Name: dir + "/libclang_rt.profile.a", Body: "!<arch>\nprofile"},
		{Name: dir + "/clang_rt.crtbegin.o", Linkname: "crtbegin.o"},
		{Name: dir + "/crtbegin.o", Body: "crt"},
	}
}

// cpioEntry describes one member of a synthetic newc archive.
type cpioEntry struct {
	Name  string
	Mode  uint32 // including type bits
	Body  string
	Ino   uint32
	Nlink uint32
}

func buildNewc(entries []cpioEntry) []byte {
	var buf bytes.Buffer
	write := func(e cpioEntry) {
		nlink := e.Nlink
		if nlink == 0 {
			nlink = 1
		}
		name := e.Name + "\x00"
		fmt.Fprintf(&buf, "070701%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
			e.Ino, e.Mode, 0, 0, nlink, 1714564800, len(e.Body), 0, 0, 0, 0, len(name), 0)
		buf.WriteString(name)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
		buf.WriteString(e.Body)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}
	for i, e := range entries {
		if e.Ino == 0 {
			e.Ino = uint32(i + 1)
		}
		write(e)
	}
	write(cpioEntry{Name: cpioTrailer})
	return buf.Bytes()
}

// rpmHeaderBytes encodes a header holding a single STRING tag, or none when tag is 0.
func rpmHeaderBytes(tag int32, value string, pad bool) []byte {
	var store []byte
	var entries []rpmIndexEntry
	if tag != 0 {
		entries = append(entries, rpmIndexEntry{Tag: tag, Type: rpmTypeString, Offset: 0, Count: 1})
		store = append([]byte(value), 0)
	}
	var buf bytes.Buffer
	buf.Write(rpmHeaderMagic)
	buf.Write([]byte{0, 0, 0, 0})
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(entries)))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(store)))
	_ = binary.Write(&buf, binary.BigEndian, entries)
	buf.Write(store)
	if pad {
		for buf.Len()%8 != 0 {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// buildRPM wraps a newc payload in a minimal RPM using compressor.
func buildRPM(t *testing.T, compressor string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	lead := make([]byte, rpmLeadSize)
	copy(lead, rpmLeadMagic)
	buf.Write(lead)
	// A non-empty signature store exercises the 8-byte alignment.
	buf.Write(rpmHeaderBytes(1000, "sig", true))
	buf.Write(rpmHeaderBytes(rpmTagPayloadCmp, compressor, false))

	switch compressor {
	case "gzip":
		zw := gzip.NewWriter(&buf)
		zw.Write(payload)
		zw.Close()
	case "xz":
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		xw.Write(payload)
		xw.Close()
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		zw.Write(payload)
		zw.Close()
	case "none":
		buf.Write(payload)
	default:
		t.Fatalf("unsupported test compressor %q", compressor)
	}
	return buf.Bytes()
}

// testEnv is a fully faked host: toolchain scripts, system repo config and
// empty install and scratch roots.
type testEnv struct {
	Settings *Settings
	BinDir   string
	DNFLog   string
	Fixture  string
}

func newTestEnv(t *testing.T, fetchable ...string) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		BinDir:  filepath.Join(base, "bin"),
		DNFLog:  filepath.Join(base, "dnf.log"),
		Fixture: filepath.Join(base, "fixture.rpm"),
	}
	for _, d := range []string{env.BinDir, filepath.Join(base, "root"), filepath.Join(base, "home")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	reposDir := filepath.Join(base, "etc", "yum.repos.d")
	writeFile(t, filepath.Join(reposDir, "fedora.repo"), "[fedora]\nbaseurl=https://mirror.example/$basearch/os/\n")
	mainConf := filepath.Join(base, "etc", "dnf", "dnf.conf")
	writeFile(t, mainConf, "[main]\ngpgcheck=1\n")

	installRoot := filepath.Join(base, "root")
	writeTarFixture(t, env.Fixture, runtimeFixture("x86_64-"+string(testSuffix)))
	rpm2cpio, cpio := fakeExtractTools(t, env.BinDir)

	env.Settings = &Settings{
		Targets:      []string{"x86_64"},
		HostArches:   []string{"aarch64"},
		Compiler:     fakeClang(t, env.BinDir, installRoot),
		RuntimeLib:   "compiler-rt",
		PkgManager:   fakeDNF(t, env.BinDir, env.DNFLog, env.Fixture, fetchable...),
		Package:      "compiler-rt",
		ReposDir:     reposDir,
		MainConf:     mainConf,
		ArchToken:    "basearch",
		InstallRoot:  installRoot,
		ScratchRoot:  filepath.Join(base, "home"),
		Rpm2cpio:     rpm2cpio,
		Cpio:         cpio,
		ManifestPath: filepath.Join(base, "state", "installed.yaml"),
	}
	return env
}

// dnfCalls returns the logged dnf invocations that contain sub.
func (e *testEnv) dnfCalls(t *testing.T, sub string) int {
	t.Helper()
	data, err := os.ReadFile(e.DNFLog)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, sub) {
			n++
		}
	}
	return n
}

func testExec() *Executor {
	return &Executor{Context: context.Background()}
}
