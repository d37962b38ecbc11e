package crossrt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// needsRootPrivileges reports whether the subcommand will write outside the user's home.
func needsRootPrivileges(cmd string) bool {
	switch cmd {
	case "crossrt", "setup", "rtlib", "clean":
		return true
	}
	return false
}

// authenticateOnce validates sudo once at startup and keeps the ticket fresh
// until ctx is done.
func authenticateOnce(ctx context.Context) error {
	if os.Geteuid() == 0 {
		return nil // Already root
	}

	cmd := exec.CommandContext(ctx, "sudo", "-v")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo authentication failed: %w", err)
	}

	go func() {
		ticker := time.NewTicker(4 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = exec.Command("sudo", "-nv").Run()
			}
		}
	}()

	colArrow.Print("-> ")
	colSuccess.Println("Authenticated via sudo")
	return nil
}
