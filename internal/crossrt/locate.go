package crossrt

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// LocateTripleDir finds the one directory below root named triple. The walk
// is lexical and does not descend into a match.
func LocateTripleDir(root, triple string) (string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == triple && path != root {
			matches = append(matches, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s directory below %s", ErrNotFound, triple, root)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %d %s directories below %s: %v", ErrAmbiguousMatch, len(matches), triple, root, matches)
	}
}
