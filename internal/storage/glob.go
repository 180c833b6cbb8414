package storage

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/neo154/afkrun/internal/location"
)

// isGlobPattern reports whether name contains glob metacharacters, in
// which case it is matched against its parent directory's children with
// doublestar rather than checked for literal existence.
func isGlobPattern(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

// locationExists is the glob-aware existence check used by
// CheckArchiveFiles/CheckRequiredFiles/CheckHaltFiles: a literal path
// behaves exactly like Location.Exists, while an entry whose name carries
// glob metacharacters is matched against its parent's children.
func locationExists(ctx context.Context, loc location.Location) (bool, error) {
	if !isGlobPattern(loc.Name()) {
		return loc.Exists(ctx)
	}
	parent := loc.Parent()
	parentExists, err := parent.Exists(ctx)
	if err != nil {
		return false, err
	}
	if !parentExists {
		return false, nil
	}
	children, err := parent.IterLocation(ctx)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		matched, err := doublestar.Match(loc.Name(), child.Name())
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// CheckHaltFiles reports whether any entry in the halt-files list is
// present (literally or via glob match), returning the first match found
// so a caller can log which halt condition tripped.
func (s *Storage) CheckHaltFiles(ctx context.Context) (bool, location.Location, error) {
	for _, f := range s.haltFiles {
		found, err := locationExists(ctx, f)
		if err != nil {
			return false, nil, err
		}
		if found {
			return true, f, nil
		}
	}
	return false, nil, nil
}
