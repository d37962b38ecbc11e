package crossrt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCleanScratch(t *testing.T) {
	newScratch := func(t *testing.T) *Settings {
		s := &Settings{Targets: []string{"ppc64le", "s390x", "x86_64"}, ScratchRoot: t.TempDir()}
		for _, arch := range []string{"ppc64le", "x86_64"} {
			writeFile(t, filepath.Join(s.ScratchDir(arch), "RPMs", "a.rpm"), "rpm")
		}
		return s
	}

	t.Run("confirmed per target", func(t *testing.T) {
		s := newScratch(t)
		if err := cleanScratch(s, nil, false, strings.NewReader("y\nn\n")); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(s.ScratchDir("ppc64le")); !os.IsNotExist(err) {
			t.Error("ppc64le scratch should be removed")
		}
		if _, err := os.Stat(s.ScratchDir("x86_64")); err != nil {
			t.Error("x86_64 scratch should be kept")
		}
	})

	t.Run("yes skips prompts", func(t *testing.T) {
		s := newScratch(t)
		if err := cleanScratch(s, nil, true, strings.NewReader("")); err != nil {
			t.Fatal(err)
		}
		for _, arch := range s.Targets {
			if _, err := os.Stat(s.ScratchDir(arch)); !os.IsNotExist(err) {
				t.Errorf("%s scratch still present", arch)
			}
		}
	})
}
