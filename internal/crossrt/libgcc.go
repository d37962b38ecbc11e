package crossrt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// removeLibgccShim moves aside a libgcc_s.so linker script next to the
// host's runtime library. The script pins the host's absolute libgcc_s and
// breaks --sysroot links; a real ELF library is left alone.
func removeLibgccShim(ctx context.Context, s *Settings, user, root *Executor) error {
	lib, err := ProbeRuntimeLibrary(ctx, user, s.Compiler, "", "")
	if err != nil {
		return err
	}
	_, err = moveLibgccShim(filepath.Join(filepath.Dir(lib), "libgcc_s.so"), root)
	return err
}

// moveLibgccShim renames shim to shim.bak when it is not an ELF file and
// reports whether it did.
func moveLibgccShim(shim string, root *Executor) (bool, error) {
	f, err := os.Open(shim)
	if errors.Is(err, fs.ErrNotExist) {
		cPrintln(colNote, "libgcc_s.so is no more.")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	head := make([]byte, len(elfMagic))
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading %s: %w", shim, err)
	}

	if bytes.Equal(head[:n], elfMagic) {
		cPrintln(colNote, "libgcc_s is ELF: ignoring.")
		return false, nil
	}

	step("libgcc_s is not an ELF (likely LD instruction): moving")
	if err := renameAsRoot(shim, shim+".bak", root); err != nil {
		return false, fmt.Errorf("moving %s aside: %w", shim, err)
	}
	return true, nil
}
