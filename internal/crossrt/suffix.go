package crossrt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// PlatformSuffix is the vendor/OS/ABI tail of the host's runtime directory
// name, e.g. "redhat-linux-gnu" from "aarch64-redhat-linux-gnu".
type PlatformSuffix string

// Triple joins arch and the suffix into a target triple.
func (s PlatformSuffix) Triple(arch string) string {
	return arch + "-" + string(s)
}

// ResolvePlatformSuffix derives the suffix from the directory that holds the
// host's own runtime library. rtlib must be the runtime library mode used for
// the targets: without it clang on RPM hosts answers with gcc's libgcc.a,
// whose directory layout carries a different triple.
func ResolvePlatformSuffix(ctx context.Context, e *Executor, cc, rtlib string) (PlatformSuffix, error) {
	lib, err := ProbeRuntimeLibrary(ctx, e, cc, rtlib, "")
	if err != nil {
		return "", err
	}
	return suffixFromLibraryPath(lib)
}

func suffixFromLibraryPath(lib string) (PlatformSuffix, error) {
	parent := filepath.Base(filepath.Dir(lib))
	if parent == "" || parent == "." || parent == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q has no parent directory name", ErrUnexpectedLayout, lib)
	}
	_, rest, ok := strings.Cut(parent, "-")
	if !ok {
		return "", fmt.Errorf("%w: directory %q of %q contains no '-'", ErrUnexpectedLayout, parent, lib)
	}
	if rest == "" {
		return "", fmt.Errorf("%w: directory %q of %q has an empty platform suffix", ErrUnexpectedLayout, parent, lib)
	}
	return PlatformSuffix(rest), nil
}
