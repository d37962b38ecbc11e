package crossrt

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ProbeRuntimeLibrary asks the compiler driver which runtime library file it
// would link for triple. An empty rtlib or triple leaves the corresponding flag
// off. The answer is returned as an absolute path; whether it exists is up to
// the caller.
func ProbeRuntimeLibrary(ctx context.Context, e *Executor, cc, rtlib, triple string) (string, error) {
	var args []string
	if rtlib != "" {
		args = append(args, "--rtlib="+rtlib)
	}
	if triple != "" {
		args = append(args, "--target="+triple)
	}
	args = append(args, "--print-libgcc-file-name")

	var out bytes.Buffer
	cmd := exec.Command(cc, args...)
	if err := runTool(e.With(ctx), cmd, &out); err != nil {
		return "", err
	}

	line, _ := bufio.NewReader(&out).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%w: %s printed no runtime library path", ErrUnexpectedLayout, cc)
	}

	abs, err := filepath.Abs(line)
	if err != nil {
		return "", fmt.Errorf("%w: resolving %q: %v", ErrUnexpectedLayout, line, err)
	}
	debugf("probe %s (rtlib=%q target=%q) -> %s\n", cc, rtlib, triple, abs)
	return abs, nil
}
