package crossrt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Executor provides a consistent interface for executing commands,
// abstracting away the privilege escalation (sudo) logic.
type Executor struct {
	Context         context.Context // The context to use for cancellation
	ShouldRunAsRoot bool            // ShouldRunAsRoot specifies whether the command MUST be executed with root privileges.
	Interactive     bool            // Interactive indicates whether the command may prompt the user
	Timeout         time.Duration   // Per-command limit; zero means none
}

// NewExecutor returns an executor bound to ctx.
func NewExecutor(ctx context.Context, timeout time.Duration) *Executor {
	return &Executor{Context: ctx, Timeout: timeout}
}

// With returns a copy of e bound to ctx. A nil receiver yields a plain user executor.
func (e *Executor) With(ctx context.Context) *Executor {
	if e == nil {
		return &Executor{Context: ctx}
	}
	c := *e
	c.Context = ctx
	return &c
}

func (e *Executor) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

// runInteractiveCommand executes a command, ensuring it's attached to the TTY for interactive prompts.
// It does not use process group isolation, making it suitable for commands like `sudo -v`.
func runInteractiveCommand(ctx context.Context, name string, arg ...string) error {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ensureSudo checks if the sudo ticket is still valid and re-prompts if necessary.
// No action needed if we are already root or the command doesn't require root.
func (e *Executor) ensureSudo() error {
	if os.Geteuid() == 0 || !e.ShouldRunAsRoot {
		return nil
	}
	checkCmd := exec.CommandContext(e.context(), "sudo", "-nv")
	checkCmd.Stdout = io.Discard
	checkCmd.Stderr = io.Discard

	if err := checkCmd.Run(); err == nil {
		return nil
	}

	// The ticket has likely expired; `sudo -v` needs the real TTY for the password.
	colArrow.Print("-> ")
	colSuccess.Println("Sudo ticket has expired. Re-authenticating")

	if err := runInteractiveCommand(e.context(), "sudo", "-v"); err != nil {
		return fmt.Errorf("sudo re-authentication failed: %w", err)
	}
	return nil
}

// Run executes the given command, elevating via sudo -E only when needed.
// It wires up stdio, isolates the child in its own process group for cleanup,
// and kills that group when the context is cancelled or the timeout expires.
func (e *Executor) Run(cmd *exec.Cmd) error {
	// Stdin stays detached for non-interactive children.
	if cmd.Stdin == nil && e.Interactive {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := e.ensureSudo(); err != nil {
		return err
	}

	ctx := e.context()
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	basePath := cmd.Path
	baseArgs := cmd.Args[1:]

	var finalCmd *exec.Cmd
	if e.ShouldRunAsRoot && os.Geteuid() != 0 {
		args := append([]string{"-E", basePath}, baseArgs...)
		finalCmd = exec.Command("sudo", args...)
	} else {
		finalCmd = exec.Command(basePath, baseArgs...)
	}
	finalCmd.Dir = cmd.Dir

	// preserve or inherit the environment
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}

	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr

	if !e.Interactive {
		finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	// Kill the whole process group on cancel; interactive children keep the TTY's group.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if e.Interactive {
				_ = finalCmd.Process.Kill()
			} else {
				_ = syscall.Kill(-finalCmd.Process.Pid, syscall.SIGKILL)
			}
		case <-done:
		}
	}()

	if waitErr := finalCmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command aborted: %w", ctx.Err())
		}
		return waitErr
	}
	return nil
}

// runTool runs cmd through e, capturing stderr for the error report. stdout
// receives the child's standard output; nil discards it.
func runTool(e *Executor, cmd *exec.Cmd, stdout io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	if Debug {
		cmd.Stderr = io.MultiWriter(&stderr, os.Stderr)
	} else {
		cmd.Stderr = &stderr
	}
	debugf("running: %v (dir %q)\n", cmd.Args, cmd.Dir)

	if err := e.Run(cmd); err != nil {
		return &ToolError{
			Args:     cmd.Args,
			ExitCode: exitCode(err),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return nil
}

// exitCode extracts the exit status from err, or -1 when the process never exited normally.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
