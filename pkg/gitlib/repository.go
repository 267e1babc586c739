package gitlib

import (
	"context"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// Repository wraps a libgit2 repository and implements VCS without
// spawning git processes.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens the git repository containing path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepositoryExtended(path, 0, "")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the path the repository was opened from.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// ResolveRef reports whether ref parses as a revision.
func (r *Repository) ResolveRef(_ context.Context, ref string) bool {
	if ref == "" {
		return false
	}

	obj, err := r.repo.RevparseSingle(ref)
	if err != nil {
		return false
	}

	obj.Free()

	return true
}

// DiffNames lists the paths that differ between the trees of from and to.
// Renames are not detected, so both the old and the new path are listed.
func (r *Repository) DiffNames(_ context.Context, from, to string) ([]string, error) {
	oldTree, err := r.lookupTree(from)
	if err != nil {
		return nil, err
	}
	defer oldTree.Free()

	newTree, err := r.lookupTree(to)
	if err != nil {
		return nil, err
	}
	defer newTree.Free()

	if oldTree.Id().Equal(newTree.Id()) {
		return nil, nil
	}

	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, r.queryError("diff", err)
	}

	diff, err := r.repo.DiffTreeToTree(oldTree, newTree, &opts)
	if err != nil {
		return nil, r.queryError("diff", err)
	}
	defer diff.Free()

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return nil, r.queryError("diff", err)
	}

	seen := make(map[string]struct{}, numDeltas)
	paths := make([]string, 0, numDeltas)

	for i := range numDeltas {
		delta, deltaErr := diff.Delta(i)
		if deltaErr != nil {
			return nil, r.queryError("diff", deltaErr)
		}

		switch delta.Status {
		case git2go.DeltaAdded:
			paths = appendUnique(paths, seen, delta.NewFile.Path)
		case git2go.DeltaDeleted:
			paths = appendUnique(paths, seen, delta.OldFile.Path)
		case git2go.DeltaUnmodified, git2go.DeltaIgnored, git2go.DeltaUntracked:
			continue
		default:
			paths = appendUnique(paths, seen, delta.OldFile.Path)
			paths = appendUnique(paths, seen, delta.NewFile.Path)
		}
	}

	return paths, nil
}

// TrackedFiles lists the paths recorded in the repository index.
func (r *Repository) TrackedFiles(_ context.Context) ([]string, error) {
	index, err := r.repo.Index()
	if err != nil {
		return nil, r.queryError("ls-files", err)
	}
	defer index.Free()

	count := index.EntryCount()
	seen := make(map[string]struct{}, count)
	paths := make([]string, 0, count)

	for i := range count {
		entry, entryErr := index.EntryByIndex(i)
		if entryErr != nil {
			return nil, r.queryError("ls-files", entryErr)
		}

		paths = appendUnique(paths, seen, entry.Path)
	}

	return paths, nil
}

// lookupTree peels ref down to its tree.
func (r *Repository) lookupTree(ref string) (*git2go.Tree, error) {
	obj, err := r.repo.RevparseSingle(ref)
	if err != nil {
		return nil, r.queryError("rev-parse "+ref, err)
	}
	defer obj.Free()

	treeObj, err := obj.Peel(git2go.ObjectTree)
	if err != nil {
		return nil, r.queryError("rev-parse "+ref+"^{tree}", err)
	}
	defer treeObj.Free()

	tree, err := r.repo.LookupTree(treeObj.Id())
	if err != nil {
		return nil, r.queryError("lookup tree "+ref, err)
	}

	return tree, nil
}

func (r *Repository) queryError(op string, err error) error {
	return &QueryError{Command: "libgit2 " + op, Err: err}
}
