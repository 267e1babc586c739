package gitlib_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/detect-changes/pkg/gitlib"
)

func requireGit(t *testing.T) {
	t.Helper()

	_, err := exec.LookPath(gitlib.DefaultBinary)
	if err != nil {
		t.Skip("git executable not available")
	}
}

func TestCLI_ResolveRef(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "a")
	head := tr.commit("first")

	cli := gitlib.NewCLI(tr.path, "")
	ctx := context.Background()

	assert.True(t, cli.ResolveRef(ctx, "HEAD"))
	assert.True(t, cli.ResolveRef(ctx, head))
	assert.False(t, cli.ResolveRef(ctx, "no-such-branch"))
	assert.False(t, cli.ResolveRef(ctx, "--all"))
	assert.False(t, cli.ResolveRef(ctx, ""))
}

func TestCLI_DiffNames(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("alpha/lib.yaml", "name: alpha\n")
	tr.createFile("beta/src.txt", "one")
	first := tr.commit("first")

	tr.createFile("beta/src.txt", "two")
	tr.createFile("gamma/with space.txt", "new")
	second := tr.commit("second")

	cli := gitlib.NewCLI(tr.path, gitlib.DefaultBinary)

	names, err := cli.DiffNames(context.Background(), first, second)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"beta/src.txt", "gamma/with space.txt"}, names)
}

func TestCLI_DiffNames_RenameListsBothSides(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("alpha/file.txt", "same content that git would detect as a rename")
	first := tr.commit("first")

	tr.deleteFile("alpha/file.txt")
	tr.createFile("beta/file.txt", "same content that git would detect as a rename")
	second := tr.commit("move")

	names, err := gitlib.NewCLI(tr.path, "").DiffNames(context.Background(), first, second)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"alpha/file.txt", "beta/file.txt"}, names)
}

func TestCLI_DiffNames_RefNamedLikeDirectory(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("zlib/lib.yaml", "name: zlib\n")
	first := tr.commit("first")
	tr.branch("zlib", first)

	tr.createFile("zlib/build.sh", "make")
	second := tr.commit("second")

	names, err := gitlib.NewCLI(tr.path, "").DiffNames(context.Background(), "zlib", second)
	require.NoError(t, err)

	assert.Equal(t, []string{"zlib/build.sh"}, names)
}

func TestCLI_DiffNames_Failure(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "a")
	tr.commit("first")

	_, err := gitlib.NewCLI(tr.path, "").DiffNames(context.Background(), "missing", "HEAD")

	var queryErr *gitlib.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Contains(t, queryErr.Command, "git diff --name-only")
	assert.NotEmpty(t, queryErr.Stderr)
}

func TestCLI_TrackedFiles(t *testing.T) {
	requireGit(t)

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("alpha/lib.yaml", "name: alpha\n")
	tr.createFile("README.md", "readme")
	tr.commit("initial")

	files, err := gitlib.NewCLI(tr.path, "").TrackedFiles(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"README.md", "alpha/lib.yaml"}, files)
}

func TestCLI_MissingBinary(t *testing.T) {
	t.Parallel()

	cli := gitlib.NewCLI(t.TempDir(), "definitely-not-a-git-binary")

	assert.False(t, cli.ResolveRef(context.Background(), "HEAD"))

	_, err := cli.TrackedFiles(context.Background())

	var queryErr *gitlib.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Contains(t, queryErr.Error(), "definitely-not-a-git-binary ls-files")
}

func TestFakeVCS(t *testing.T) {
	t.Parallel()

	fake := &gitlib.FakeVCS{
		Refs:    []string{"main", "HEAD"},
		Diff:    []string{"alpha/x.txt"},
		Tracked: []string{"alpha/x.txt", "beta/y.txt"},
	}

	ctx := context.Background()

	assert.True(t, fake.ResolveRef(ctx, "main"))
	assert.False(t, fake.ResolveRef(ctx, "dev"))

	diff, err := fake.DiffNames(ctx, "main", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/x.txt"}, diff)

	fake.TrackedErr = gitlib.ErrFakeQuery

	_, err = fake.TrackedFiles(ctx)
	require.ErrorIs(t, err, gitlib.ErrFakeQuery)

	assert.Equal(t, []string{"rev-parse main", "rev-parse dev", "diff main HEAD", "ls-files"}, fake.Calls())
}
