// Package gitlib provides the version control queries the change detector
// needs: ref resolution, changed paths between two revisions and the list of
// tracked files. Backends shell out to git or go through libgit2.
package gitlib

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendGit     = "git"
	BackendLibgit2 = "libgit2"
)

// DefaultBinary is the git executable used by the CLI backend.
const DefaultBinary = "git"

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown vcs backend")

// VCS is the narrow set of version control queries used by change detection.
// Paths are slash-delimited and relative to the repository root.
type VCS interface {
	// ResolveRef reports whether ref names a revision in the repository.
	ResolveRef(ctx context.Context, ref string) bool
	// DiffNames lists every path that differs between the two revisions.
	DiffNames(ctx context.Context, from, to string) ([]string, error)
	// TrackedFiles lists every path tracked in the working tree.
	TrackedFiles(ctx context.Context) ([]string, error)
}

// QueryError describes a failed version control query.
type QueryError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
	}

	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Open returns the VCS for the named backend rooted at dir. The returned
// close function releases backend resources and is never nil.
func Open(backend, dir, binary string) (VCS, func(), error) {
	switch backend {
	case "", BackendGit:
		return NewCLI(dir, binary), func() {}, nil
	case BackendLibgit2:
		repo, err := OpenRepository(dir)
		if err != nil {
			return nil, func() {}, err
		}

		return repo, repo.Free, nil
	default:
		return nil, func() {}, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// appendUnique appends path to paths unless already present in seen.
func appendUnique(paths []string, seen map[string]struct{}, path string) []string {
	if path == "" {
		return paths
	}

	if _, ok := seen[path]; ok {
		return paths
	}

	seen[path] = struct{}{}

	return append(paths, path)
}

// splitNUL splits NUL-terminated git output into paths.
func splitNUL(out string) []string {
	out = strings.TrimRight(out, "\x00")
	if out == "" {
		return nil
	}

	return strings.Split(out, "\x00")
}
