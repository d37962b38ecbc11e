package crossrt

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
)

// hostArch maps a Go architecture name to the distribution's name for it.
func hostArch(goarch string) string {
	switch goarch {
	case "arm64":
		return "aarch64"
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	}
	return goarch
}

// checkMachine refuses unsupported hosts and targets that equal the host.
func checkMachine(s *Settings) error {
	return checkMachineFor(runtime.GOOS, hostArch(runtime.GOARCH), s)
}

func checkMachineFor(goos, arch string, s *Settings) error {
	if goos != "linux" || !slices.Contains(s.HostArches, arch) {
		return fmt.Errorf("only Linux on %s is supported (this host: %s/%s)", strings.Join(s.HostArches, ", "), goos, arch)
	}
	for _, target := range s.Targets {
		if target == arch {
			return fmt.Errorf("target %s is the host architecture", target)
		}
	}
	return nil
}

// checkRPMDistro requires the RPM package-manager tools on PATH.
func checkRPMDistro() error {
	tools := []string{"rpm", "dnf", "yum"}
	for _, exe := range tools {
		if _, err := exec.LookPath(exe); err != nil {
			return fmt.Errorf("these programs need to be present in the system: %s", strings.Join(tools, ", "))
		}
	}
	return nil
}

// ensureDNFPlugins installs dnf-plugins-core when `dnf download` is unavailable.
func ensureDNFPlugins(ctx context.Context, s *Settings, user, root *Executor) error {
	if err := runTool(user.With(ctx), exec.Command(s.PkgManager, "download", "--help"), nil); err == nil {
		return nil
	}
	step("Installing dnf download plugin")
	if err := runTool(root.With(ctx), exec.Command(s.PkgManager, "-y", "install", "dnf-plugins-core"), nil); err != nil {
		return fmt.Errorf("installing dnf-plugins-core: %w", err)
	}
	return nil
}

// toolGroup is a set of executables installed together.
type toolGroup struct {
	Exes  []string
	Title string
	Args  []string
}

var nativeToolGroups = []toolGroup{
	{[]string{"gcc", "make"}, "Development Tools", []string{"groupinstall", "Development Tools"}},
	{[]string{"clang", "lld"}, "Native LLVM", []string{"install", "clang", "lld", "compiler-rt"}},
	{[]string{"unzip", "cpio"}, "archiving tools", []string{"install", "unzip", "cpio"}},
}

// installNativeDevTools installs each missing tool group. Install failures
// are reported and the remaining groups still run.
func installNativeDevTools(ctx context.Context, s *Settings, root *Executor, groups []toolGroup) {
	for _, g := range groups {
		if allOnPath(g.Exes) {
			cPrintln(colNote, g.Title+" already installed.")
			continue
		}
		step("Installing %s", g.Title)
		args := append([]string{"-y"}, g.Args...)
		cmd := exec.Command(s.PkgManager, args...)
		if err := runTool(root.With(ctx), cmd, nil); err != nil {
			cPrintf(colWarn, "Warning: installing %s failed: %v\n", g.Title, err)
		}
	}
}

func allOnPath(exes []string) bool {
	for _, exe := range exes {
		if _, err := exec.LookPath(exe); err != nil {
			return false
		}
	}
	return true
}

// prepareHost runs the host checks and installs that precede provisioning.
func prepareHost(ctx context.Context, s *Settings, user, root *Executor) error {
	if err := checkMachine(s); err != nil {
		return err
	}
	if err := checkRPMDistro(); err != nil {
		return err
	}
	if err := ensureDNFPlugins(ctx, s, user, root); err != nil {
		return err
	}
	installNativeDevTools(ctx, s, root, nativeToolGroups)
	if err := ensureLLDDefault(ctx, user, root); err != nil {
		return err
	}
	return removeLibgccShim(ctx, s, user, root)
}
