package crossrt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath string
	debug      bool
	root       string
	timeout    string

	settings *Settings
}

// Main is the CLI entrypoint for cmd/crossrt.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go handleSignals(ctx, cancel, sigs)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		colArrow.Print("-> ")
		colError.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// handleSignals cancels ctx on the first interrupt. While files are being
// written into the system root the first interrupt is held back and a second
// one is needed to force an exit.
func handleSignals(ctx context.Context, cancel context.CancelFunc, sigs <-chan os.Signal) {
	for {
		select {
		case sig := <-sigs:
			if isCriticalAtomic.Load() == 1 {
				colArrow.Print("\n-> ")
				colError.Printf("Install in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					colError.Printf("Forced immediate exit.\n")
					os.Exit(130)
				case <-time.After(5 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
				os.Exit(130)
			case <-time.After(2 * time.Second):
				colArrow.Print("\n-> ")
				color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
				os.Exit(130)
			}
		case <-ctx.Done():
			return
		}
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "crossrt",
		Short: "Provision clang runtime libraries for foreign architectures on RPM hosts",
		Long: `crossrt prepares an RPM-based host so its native clang can link for other
architectures: it checks the host, installs the native toolchain, makes lld
the default linker and installs compiler-rt for every configured target.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.load,
		RunE:              opts.runSetup,
	}
	root.SetVersionTemplate(fmt.Sprintf("crossrt {{.Version}} (built %s)\n", buildDate))

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", ConfigFile, "configuration file")
	flags.BoolVar(&opts.debug, "debug", false, "print debug output")
	flags.StringVar(&opts.root, "root", "", "install root (overrides CROSSRT_ROOT)")
	flags.StringVar(&opts.timeout, "timeout", "", "per-command timeout, e.g. 10m (overrides CROSSRT_TIMEOUT)")

	root.AddCommand(
		&cobra.Command{
			Use:   "setup",
			Short: "Prepare the host and provision every target (default)",
			Args:  cobra.NoArgs,
			RunE:  opts.runSetup,
		},
		&cobra.Command{
			Use:   "rtlib",
			Short: "Provision compiler-rt for every target, skipping host preparation",
			Args:  cobra.NoArgs,
			RunE:  opts.runRTLib,
		},
		opts.probeCmd(),
		&cobra.Command{
			Use:   "suffix",
			Short: "Print the host's platform suffix",
			Args:  cobra.NoArgs,
			RunE:  opts.runSuffix,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show each target's runtime library and install record",
			Args:  cobra.NoArgs,
			RunE:  opts.runStatus,
		},
		opts.cleanCmd(),
		opts.inspectCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "crossrt %s (built %s)\n", version, buildDate)
			},
		},
	)
	return root
}

// load reads the configuration, applies flag overrides and sets up the executors.
func (o *cliOptions) load(cmd *cobra.Command, _ []string) error {
	if o.debug {
		Debug = true
	}
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.root != "" {
		cfg.Values["CROSSRT_ROOT"] = o.root
	}
	if o.timeout != "" {
		cfg.Values["CROSSRT_TIMEOUT"] = o.timeout
	}

	s, err := newSettings(cfg)
	if err != nil {
		return err
	}
	o.settings = s
	if s.Debug {
		Debug = true
	}

	ctx := cmd.Context()
	UserExec = &Executor{Context: ctx, Timeout: s.Timeout}
	RootExec = &Executor{Context: ctx, ShouldRunAsRoot: s.UseSudo, Timeout: s.Timeout}

	if s.UseSudo && needsRootPrivileges(cmd.Name()) && isInteractive() {
		if err := authenticateOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *cliOptions) runSetup(cmd *cobra.Command, _ []string) error {
	lock, err := acquireRunLock(lockPath(o.settings))
	if err != nil {
		return err
	}
	defer lock.release()

	if err := prepareHost(cmd.Context(), o.settings, UserExec, RootExec); err != nil {
		return err
	}
	return o.provision(cmd.Context())
}

func (o *cliOptions) runRTLib(cmd *cobra.Command, _ []string) error {
	lock, err := acquireRunLock(lockPath(o.settings))
	if err != nil {
		return err
	}
	defer lock.release()

	return o.provision(cmd.Context())
}

func (o *cliOptions) provision(ctx context.Context) error {
	s := o.settings
	suffix, err := ResolvePlatformSuffix(ctx, UserExec, s.Compiler, s.RuntimeLib)
	if err != nil {
		return fmt.Errorf("resolving platform suffix: %w", err)
	}
	debugf("platform suffix: %s\n", suffix)

	p := &Provisioner{Settings: s, User: UserExec, Root: RootExec}
	if s.R2.Enabled() {
		store, err := NewR2Store(ctx, s.R2)
		if err != nil {
			cPrintf(colWarn, "Warning: archive store disabled: %v\n", err)
		} else {
			p.Store = store
		}
	}
	if m, err := loadManifest(s.ManifestPath); err != nil {
		cPrintf(colWarn, "Warning: %v; starting a new install record\n", err)
		p.Manifest = &Manifest{}
	} else {
		p.Manifest = m
	}

	results := p.Run(ctx, suffix, s.Targets)
	if anyFailed(results) {
		var failed []string
		for _, r := range results {
			if r.State == Failed {
				failed = append(failed, r.Arch)
			}
		}
		return fmt.Errorf("provisioning failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (o *cliOptions) probeCmd() *cobra.Command {
	var (
		target string
		rtlib  string
		noRT   bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the runtime library the compiler would link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := o.settings
			ctx := cmd.Context()
			mode := s.RuntimeLib
			if cmd.Flags().Changed("rtlib") {
				mode = rtlib
			}
			if noRT {
				mode = ""
			}

			triple := ""
			if target != "" {
				suffix, err := ResolvePlatformSuffix(ctx, UserExec, s.Compiler, s.RuntimeLib)
				if err != nil {
					return err
				}
				triple = suffix.Triple(target)
			}

			lib, err := ProbeRuntimeLibrary(ctx, UserExec, s.Compiler, mode, triple)
			if err != nil {
				return err
			}
			state := Absent
			if fileExists(lib) {
				state = Present
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", lib, state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target architecture (e.g. x86_64)")
	cmd.Flags().StringVar(&rtlib, "rtlib", "", "runtime library mode (defaults to CROSSRT_RTLIB)")
	cmd.Flags().BoolVar(&noRT, "no-rtlib", false, "do not pass --rtlib to the compiler")
	return cmd
}

func (o *cliOptions) runSuffix(cmd *cobra.Command, _ []string) error {
	suffix, err := ResolvePlatformSuffix(cmd.Context(), UserExec, o.settings.Compiler, o.settings.RuntimeLib)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), suffix)
	return nil
}

func (o *cliOptions) runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	suffix, err := ResolvePlatformSuffix(ctx, UserExec, o.settings.Compiler, o.settings.RuntimeLib)
	if err != nil {
		return err
	}
	m, err := loadManifest(o.settings.ManifestPath)
	if err != nil {
		return err
	}
	statuses, err := collectStatus(ctx, o.settings, UserExec, suffix, m)
	if err != nil {
		return err
	}
	printStatus(statuses)

	for _, st := range statuses {
		if len(st.Changed) > 0 {
			return errors.New("installed files were modified")
		}
	}
	return nil
}

func (o *cliOptions) cleanCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the per-target scratch directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lock, err := acquireRunLock(lockPath(o.settings))
			if err != nil {
				return err
			}
			defer lock.release()
			return cleanScratch(o.settings, RootExec, yes, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (o *cliOptions) inspectCmd() *cobra.Command {
	var triple string
	cmd := &cobra.Command{
		Use:   "inspect <archive.rpm>",
		Short: "List an RPM's payload without extracting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := inspectRPM(args[0], triple)
			if err != nil {
				return err
			}
			printInspectReport(cmd.OutOrStdout(), args[0], triple, report)
			if triple != "" && len(report.TripleDirs) != 1 {
				return fmt.Errorf("expected exactly one %s directory, found %d", triple, len(report.TripleDirs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&triple, "triple", "", "report directories named after this target triple")
	return cmd
}
