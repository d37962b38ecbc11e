package crossrt

import (
	"context"
	"os"
)

// State is a position in one architecture's provisioning sequence.
type State int

const (
	NotChecked State = iota
	Present
	Absent
	RepoBuilt
	Fetched
	Extracted
	Installed
	Failed
)

func (s State) String() string {
	switch s {
	case NotChecked:
		return "not-checked"
	case Present:
		return "present"
	case Absent:
		return "absent"
	case RepoBuilt:
		return "repo-built"
	case Fetched:
		return "fetched"
	case Extracted:
		return "extracted"
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// stepName names the step that leaves state s.
func (s State) stepName() string {
	switch s {
	case NotChecked:
		return "probe"
	case Absent:
		return "repo"
	case RepoBuilt:
		return "fetch"
	case Fetched:
		return "extract"
	case Extracted:
		return "install"
	}
	return s.String()
}

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	return s == Present || s == Installed || s == Failed
}

// Result is the outcome of provisioning one architecture.
type Result struct {
	Arch          string
	Triple        string
	State         State
	FailedAt      State // last state reached before a failure
	Err           error // *StepError when State is Failed
	Library       string
	InstalledPath string
}

// Provisioner drives the per-architecture state machine.
type Provisioner struct {
	Settings *Settings
	User     *Executor // unprivileged queries, downloads and extraction
	Root     *Executor // privileged install fallback
	Store    ArchiveStore
	Manifest *Manifest // nil disables install records
}

// Run provisions each architecture in order. A failure ends that
// architecture only; the remaining ones are still attempted.
func (p *Provisioner) Run(ctx context.Context, suffix PlatformSuffix, archs []string) []Result {
	results := make([]Result, 0, len(archs))
	for _, arch := range archs {
		res := p.provision(ctx, suffix, arch)
		if res.State == Failed {
			colArrow.Print("-> ")
			colError.Println(res.Err)
		}
		results = append(results, res)
	}
	return results
}

func (p *Provisioner) provision(ctx context.Context, suffix PlatformSuffix, arch string) Result {
	s := p.Settings
	res := Result{Arch: arch, Triple: suffix.Triple(arch), State: NotChecked}
	failStep := func(name string, err error) Result {
		res.FailedAt = res.State
		res.State = Failed
		res.Err = &StepError{Arch: arch, Step: res.FailedAt, Name: name, Err: err}
		return res
	}
	fail := func(err error) Result { return failStep("", err) }

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	lib, err := ProbeRuntimeLibrary(ctx, p.User, s.Compiler, s.RuntimeLib, res.Triple)
	if err != nil {
		return fail(err)
	}
	res.Library = lib
	if fileExists(lib) {
		res.State = Present
		step("%s: %s already present at %s", arch, s.Package, lib)
		return res
	}
	res.State = Absent
	step("%s: %s missing (%s), provisioning", arch, s.Package, lib)

	repo, err := BuildIsolatedRepo(s, arch)
	if err != nil {
		return fail(err)
	}
	res.State = RepoBuilt
	debugf("%s: isolated repo at %s\n", arch, repo.ScratchDir)

	archive, err := FetchPackage(ctx, p.User, s, repo, arch, p.Store)
	if err != nil {
		return fail(err)
	}
	res.State = Fetched
	step("%s: downloaded %s", arch, archive)

	extractDir := repo.ExtractDir()
	if err := ExtractPackage(ctx, p.User, s, archive, extractDir); err != nil {
		return fail(err)
	}
	res.State = Extracted

	located, err := LocateTripleDir(extractDir, res.Triple)
	if err != nil {
		return failStep("locate", err)
	}
	dest, err := InstallTripleDir(s, p.Root, located, extractDir)
	if err != nil {
		return fail(err)
	}
	res.State = Installed
	res.InstalledPath = dest
	step("%s: installed %s", arch, dest)

	if after, err := ProbeRuntimeLibrary(ctx, p.User, s.Compiler, s.RuntimeLib, res.Triple); err != nil || !fileExists(after) {
		cPrintf(colWarn, "Warning: %s: compiler still cannot find %s after install (installed layout mismatch)\n", arch, lib)
	} else {
		res.Library = after
	}

	p.record(arch, res.Triple, archive, located, dest)
	return res
}

func (p *Provisioner) record(arch, triple, archive, located, dest string) {
	if p.Manifest == nil || p.Settings.ManifestPath == "" {
		return
	}
	entry, err := newManifestEntry(arch, triple, archive, located, dest)
	if err != nil {
		cPrintf(colWarn, "Warning: %s: could not record install: %v\n", arch, err)
		return
	}
	p.Manifest.Record(entry)
	if err := p.Manifest.save(p.Settings.ManifestPath); err != nil {
		cPrintf(colWarn, "Warning: could not write manifest %s: %v\n", p.Settings.ManifestPath, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// anyFailed reports whether any result ended in Failed.
func anyFailed(results []Result) bool {
	for _, r := range results {
		if r.State == Failed {
			return true
		}
	}
	return false
}
