package crossrt

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Config holds the raw KEY=VAL pairs from the config file and environment.
type Config struct {
	Values map[string]string
}

// Settings is the typed view of Config used by every provisioning step.
type Settings struct {
	Targets      []string
	HostArches   []string
	Compiler     string
	RuntimeLib   string
	PkgManager   string
	Package      string
	ReposDir     string
	MainConf     string
	ArchToken    string
	InstallRoot  string
	ScratchRoot  string
	Rpm2cpio     string
	Cpio         string
	Timeout      time.Duration
	UseSudo      bool
	Debug        bool
	ManifestPath string
	R2           R2Settings
}

// R2Settings are the optional credentials of the remote archive store.
type R2Settings struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Enabled reports whether every R2 credential is present.
func (r R2Settings) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.Bucket != ""
}

var configDefaults = map[string]string{
	"CROSSRT_TARGETS":     "x86_64",
	"CROSSRT_HOST_ARCHES": "aarch64",
	"CROSSRT_CC":          "clang",
	"CROSSRT_RTLIB":       "compiler-rt",
	"CROSSRT_PKG_MANAGER": "dnf",
	"CROSSRT_PACKAGE":     "compiler-rt",
	"CROSSRT_REPOS_DIR":   "/etc/yum.repos.d",
	"CROSSRT_DNF_CONF":    "/etc/dnf/dnf.conf",
	"CROSSRT_ARCH_TOKEN":  "basearch",
	"CROSSRT_ROOT":        "/",
	"CROSSRT_RPM2CPIO":    "rpm2cpio",
	"CROSSRT_CPIO":        "cpio",
	"CROSSRT_TIMEOUT":     "0",
	"CROSSRT_DEBUG":       "0",
	"CROSSRT_SUDO":        "1",
}

// Load /etc/crossrt.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// A missing file is fine; defaults and environment still apply.
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, fmt.Errorf("reading %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("opening %s: %w", path, err)
	}

	mergeEnvOverrides(cfg)

	for key, val := range configDefaults {
		if _, ok := cfg.Values[key]; !ok {
			cfg.Values[key] = val
		}
	}
	return cfg, nil
}

// Merge CROSSRT_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "CROSSRT_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// newSettings validates cfg and converts it into Settings.
func newSettings(cfg *Config) (*Settings, error) {
	v := func(key string) string {
		if val, ok := cfg.Values[key]; ok {
			return strings.TrimSpace(val)
		}
		return configDefaults[key]
	}

	s := &Settings{
		Targets:     splitList(v("CROSSRT_TARGETS")),
		HostArches:  splitList(v("CROSSRT_HOST_ARCHES")),
		Compiler:    v("CROSSRT_CC"),
		RuntimeLib:  v("CROSSRT_RTLIB"),
		PkgManager:  v("CROSSRT_PKG_MANAGER"),
		Package:     v("CROSSRT_PACKAGE"),
		ReposDir:    v("CROSSRT_REPOS_DIR"),
		MainConf:    v("CROSSRT_DNF_CONF"),
		ArchToken:   strings.TrimPrefix(v("CROSSRT_ARCH_TOKEN"), "$"),
		InstallRoot: v("CROSSRT_ROOT"),
		ScratchRoot: v("CROSSRT_SCRATCH"),
		Rpm2cpio:    v("CROSSRT_RPM2CPIO"),
		Cpio:        v("CROSSRT_CPIO"),
		R2: R2Settings{
			AccountID: v("CROSSRT_R2_ACCOUNT_ID"),
			AccessKey: v("CROSSRT_R2_ACCESS_KEY_ID"),
			SecretKey: v("CROSSRT_R2_SECRET_ACCESS_KEY"),
			Bucket:    v("CROSSRT_R2_BUCKET_NAME"),
		},
	}

	if len(s.Targets) == 0 {
		return nil, fmt.Errorf("CROSSRT_TARGETS: no target architecture configured")
	}
	for key, val := range map[string]string{
		"CROSSRT_CC":          s.Compiler,
		"CROSSRT_PKG_MANAGER": s.PkgManager,
		"CROSSRT_PACKAGE":     s.Package,
		"CROSSRT_ARCH_TOKEN":  s.ArchToken,
	} {
		if val == "" {
			return nil, fmt.Errorf("%s: must not be empty", key)
		}
	}

	if s.InstallRoot == "" {
		s.InstallRoot = "/"
	}
	if !filepath.IsAbs(s.InstallRoot) {
		return nil, fmt.Errorf("CROSSRT_ROOT: %q is not an absolute path", s.InstallRoot)
	}

	if s.ScratchRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("CROSSRT_SCRATCH: unset and no home directory: %w", err)
		}
		s.ScratchRoot = home
	}

	timeout, err := parseTimeout(v("CROSSRT_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("CROSSRT_TIMEOUT: %w", err)
	}
	s.Timeout = timeout

	s.UseSudo = v("CROSSRT_SUDO") != "0"
	s.Debug = v("CROSSRT_DEBUG") == "1"

	s.ManifestPath = v("CROSSRT_MANIFEST")
	if s.ManifestPath == "" {
		s.ManifestPath = filepath.Join(xdg.StateHome, "crossrt", "installed.yaml")
	}

	return s, nil
}

// parseTimeout accepts Go durations and bare seconds; "0" or "" disables it.
func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" || raw == "0" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ScratchDir returns the per-architecture scratch directory.
func (s *Settings) ScratchDir(arch string) string {
	return filepath.Join(s.ScratchRoot, "yum-"+arch)
}
