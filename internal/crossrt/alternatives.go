package crossrt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

const lldPath = "/usr/bin/ld.lld"

// isLLD reports whether `ld -version` output identifies LLD.
func isLLD(version []byte) bool {
	return bytes.HasPrefix(version, []byte("LLD")) && bytes.Contains(version, []byte("compatible with GNU linkers"))
}

// ensureLLDDefault makes lld the system ld through the alternatives system.
func ensureLLDDefault(ctx context.Context, user, root *Executor) error {
	var out bytes.Buffer
	if err := runTool(user.With(ctx), exec.Command("ld", "-version"), &out); err != nil {
		return fmt.Errorf("querying system linker: %w", err)
	}
	if isLLD(out.Bytes()) {
		cPrintln(colNote, "System ld is already lld.")
		return nil
	}

	step("Setting up lld as default ld")
	if err := runTool(root.With(ctx), exec.Command("update-alternatives", "--set", "ld", lldPath), nil); err != nil {
		return fmt.Errorf("switching ld to lld: %w", err)
	}
	return nil
}
