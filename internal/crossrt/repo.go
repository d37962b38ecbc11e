package crossrt

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RepoContext describes one architecture's isolated package-manager setup.
type RepoContext struct {
	Arch        string
	ScratchDir  string // <scratch-root>/yum-<arch>
	ConfigPath  string // rewritten main config handed to dnf -c
	ReposDir    string // copied, arch-substituted repo definitions
	DownloadDir string // RPMs/
}

// ExtractDir is where the downloaded archive gets unpacked.
func (r *RepoContext) ExtractDir() string {
	return filepath.Join(r.DownloadDir, "extract")
}

// BuildIsolatedRepo recreates the scratch directory for arch and fills it
// with a private copy of the system repository configuration in which every
// architecture placeholder is replaced by arch. System files are only read.
func BuildIsolatedRepo(s *Settings, arch string) (*RepoContext, error) {
	scratch := s.ScratchDir(arch)
	rc := &RepoContext{
		Arch:        arch,
		ScratchDir:  scratch,
		ConfigPath:  filepath.Join(scratch, "dnf.conf"),
		ReposDir:    filepath.Join(scratch, "yum.repos.d"),
		DownloadDir: filepath.Join(scratch, "RPMs"),
	}

	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("%w: clearing %s: %v", ErrRepoBuild, scratch, err)
	}
	if err := os.MkdirAll(rc.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepoBuild, err)
	}

	if info, err := os.Stat(s.ReposDir); err != nil {
		return nil, fmt.Errorf("%w: repository directory: %v", ErrRepoBuild, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRepoBuild, s.ReposDir)
	}
	if err := copyTreeFollow(s.ReposDir, rc.ReposDir); err != nil {
		return nil, fmt.Errorf("%w: copying %s: %v", ErrRepoBuild, s.ReposDir, err)
	}

	conf, err := os.ReadFile(s.MainConf)
	if err != nil {
		return nil, fmt.Errorf("%w: main config: %v", ErrRepoBuild, err)
	}
	conf = setMainReposdir(conf, rc.ReposDir)
	if err := os.WriteFile(rc.ConfigPath, conf, 0o644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepoBuild, err)
	}

	n, err := substituteArchToken(rc.ReposDir, s.ArchToken, arch)
	if err != nil {
		return nil, fmt.Errorf("%w: rewriting repo files: %v", ErrRepoBuild, err)
	}
	debugf("isolated repo for %s: %d repo file(s) rewritten in %s\n", arch, n, rc.ReposDir)
	return rc, nil
}

// setMainReposdir points the [main] section's reposdir at dir. Every other
// line is kept byte for byte.
func setMainReposdir(conf []byte, dir string) []byte {
	entry := "reposdir=" + dir + "\n"
	lines := bytes.SplitAfter(conf, []byte("\n"))

	var out bytes.Buffer
	inMain, sawMain, written := false, false, false
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		trimmed := strings.TrimSpace(string(line))

		if name, ok := sectionName(trimmed); ok {
			if inMain && !written {
				out.WriteString(entry)
				written = true
			}
			inMain = strings.EqualFold(name, "main")
			sawMain = sawMain || inMain
			out.Write(line)
			continue
		}

		if inMain {
			key, _, found := strings.Cut(trimmed, "=")
			if found && strings.EqualFold(strings.TrimSpace(key), "reposdir") {
				if !written {
					out.WriteString(entry)
					written = true
				}
				continue
			}
		}
		out.Write(line)
	}

	if written {
		return out.Bytes()
	}
	if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}
	if !sawMain {
		out.WriteString("[main]\n")
	}
	out.WriteString(entry)
	return out.Bytes()
}

func sectionName(line string) (string, bool) {
	if len(line) < 2 || line[0] != '[' || line[len(line)-1] != ']' {
		return "", false
	}
	return strings.TrimSpace(line[1 : len(line)-1]), true
}

// substituteArchToken replaces $token and ${token} with arch in every .repo
// file below dir and returns how many files were processed.
func substituteArchToken(dir, token, arch string) (int, error) {
	replacer := strings.NewReplacer("${"+token+"}", arch, "$"+token, arch)
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), ".repo") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rewritten := replacer.Replace(string(data))
		count++
		if rewritten == string(data) {
			return nil
		}
		return os.WriteFile(path, []byte(rewritten), info.Mode().Perm())
	})
	return count, err
}
