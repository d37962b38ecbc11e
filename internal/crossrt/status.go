package crossrt

import (
	"context"
	"fmt"
)

// targetStatus is one target's probe answer and install record.
type targetStatus struct {
	Arch    string
	Triple  string
	Library string
	Present bool
	Entry   *ManifestEntry
	Changed []string // recorded files that are missing or modified
}

func collectStatus(ctx context.Context, s *Settings, user *Executor, suffix PlatformSuffix, m *Manifest) ([]targetStatus, error) {
	var out []targetStatus
	for _, arch := range s.Targets {
		st := targetStatus{Arch: arch, Triple: suffix.Triple(arch)}
		lib, err := ProbeRuntimeLibrary(ctx, user, s.Compiler, s.RuntimeLib, st.Triple)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arch, err)
		}
		st.Library = lib
		st.Present = fileExists(lib)

		if entry, ok := m.Lookup(arch); ok {
			st.Entry = &entry
			if st.Changed, err = entry.verify(); err != nil {
				return nil, fmt.Errorf("%s: verifying install record: %w", arch, err)
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func printStatus(statuses []targetStatus) {
	for _, st := range statuses {
		state := Absent
		if st.Present {
			state = Present
		}
		colArrow.Print("-> ")
		colSuccess.Printf("%s (%s): %s\n", st.Arch, st.Triple, state)
		cPrintf(colInfo, "   library:   %s\n", st.Library)

		if st.Entry == nil {
			cPrintln(colNote, "   not installed by crossrt")
			continue
		}
		cPrintf(colInfo, "   installed: %s from %s at %s (%d files)\n",
			st.Entry.Path, st.Entry.Archive, st.Entry.InstalledAt.Format("2006-01-02 15:04:05"), len(st.Entry.Files))
		for _, p := range st.Changed {
			cPrintf(colWarn, "   modified:  %s\n", p)
		}
	}
}
