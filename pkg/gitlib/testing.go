package gitlib

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrFakeQuery is the error FakeVCS returns when a query is set to fail.
var ErrFakeQuery = errors.New("fake: query failed")

// FakeVCS is an in-memory VCS for tests. Refs lists the resolvable
// revisions; Diff and Tracked are the canned query results.
type FakeVCS struct {
	Refs    []string
	Diff    []string
	Tracked []string

	DiffErr    error
	TrackedErr error

	mu    sync.Mutex
	calls []string
}

// ResolveRef reports whether ref is in Refs.
func (f *FakeVCS) ResolveRef(_ context.Context, ref string) bool {
	f.record("rev-parse " + ref)

	return slices.Contains(f.Refs, ref)
}

// DiffNames returns Diff or DiffErr.
func (f *FakeVCS) DiffNames(_ context.Context, from, to string) ([]string, error) {
	f.record("diff " + from + " " + to)

	if f.DiffErr != nil {
		return nil, f.DiffErr
	}

	return slices.Clone(f.Diff), nil
}

// TrackedFiles returns Tracked or TrackedErr.
func (f *FakeVCS) TrackedFiles(_ context.Context) ([]string, error) {
	f.record("ls-files")

	if f.TrackedErr != nil {
		return nil, f.TrackedErr
	}

	return slices.Clone(f.Tracked), nil
}

// Calls returns the queries made so far, in order.
func (f *FakeVCS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.calls)
}

func (f *FakeVCS) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}
