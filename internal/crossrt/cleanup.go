package crossrt

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// cleanScratch removes the scratch directory of every configured target.
// Without yes the user confirms each removal on in.
func cleanScratch(s *Settings, root *Executor, yes bool, in io.Reader) error {
	answers := bufio.NewReader(in)
	for _, arch := range s.Targets {
		dir := s.ScratchDir(arch)
		if _, err := os.Lstat(dir); os.IsNotExist(err) {
			debugf("no scratch directory for %s at %s\n", arch, dir)
			continue
		}

		colArrow.Print("-> ")
		cPrintf(colWarn, "Deleting scratch directory %s.\n", dir)
		if !yes && !askForConfirmation(answers, colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			colSuccess.Println("Cleanup canceled.")
			continue
		}
		if err := removeAllAsRoot(dir, root); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		step("Removed %s", dir)
	}
	return nil
}
