package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/detect-changes/pkg/manifest"
)

func writeManifest(t *testing.T, root, dir, content string) {
	t.Helper()

	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, manifest.FileName), []byte(content), 0o600))
}

func TestParse_Name(t *testing.T) {
	t.Parallel()

	doc, err := manifest.Parse([]byte("name: zlib\nversion: 1.3.1\n"))
	require.NoError(t, err)

	assert.Equal(t, "zlib", doc.Name)
	assert.True(t, doc.NameIsString)
	assert.True(t, doc.Matches("zlib"))
	assert.False(t, doc.Matches("zlib2"))
}

func TestParse_MissingNameDefaultsToEmpty(t *testing.T) {
	t.Parallel()

	doc, err := manifest.Parse([]byte("version: 1.0\n"))
	require.NoError(t, err)

	assert.Empty(t, doc.Name)
	assert.False(t, doc.Matches("zlib"))
}

func TestParse_NonStringNameNeverMatches(t *testing.T) {
	t.Parallel()

	doc, err := manifest.Parse([]byte("name: 123\n"))
	require.NoError(t, err)

	assert.Equal(t, "123", doc.Name)
	assert.False(t, doc.NameIsString)
	assert.False(t, doc.Matches("123"))
}

func TestParse_QuotedNumericNameMatches(t *testing.T) {
	t.Parallel()

	doc, err := manifest.Parse([]byte("name: \"123\"\n"))
	require.NoError(t, err)

	assert.True(t, doc.Matches("123"))
}

func TestParse_ResolvesAliasesAndMerges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "alias", content: "base: &n alpha\nname: *n\n", want: "alpha"},
		{name: "merge", content: "defaults: &d\n  name: alpha\n<<: *d\n", want: "alpha"},
		{name: "merge list", content: "a: &a {name: alpha}\nb: &b {name: beta}\n<<: [*a, *b]\n", want: "alpha"},
		{name: "explicit wins over merge", content: "d: &d {name: beta}\nname: alpha\n<<: *d\n", want: "alpha"},
		{name: "later key wins", content: "name: beta\nname: alpha\n", want: "alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc, err := manifest.Parse([]byte(tt.content))
			require.NoError(t, err)

			assert.Equal(t, tt.want, doc.Name)
			assert.True(t, doc.NameIsString)
			assert.True(t, doc.Matches(tt.want))
		})
	}
}

func TestLoader_CheckNameWithAlias(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeManifest(t, root, "alpha", "defaults: &d\n  name: alpha\n<<: *d\nversion: 1.0.0\n")

	require.NoError(t, manifest.NewLoader(root, "").CheckName("alpha"))
}

func TestParse_ToleratesUnknownShapes(t *testing.T) {
	t.Parallel()

	// Only the name matters for the consistency check.
	doc, err := manifest.Parse([]byte("name: zlib\nfiles: not-a-list\nextra: {a: 1}\n"))
	require.NoError(t, err)

	assert.True(t, doc.Matches("zlib"))
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{name: "empty", content: "", want: manifest.ErrNotMapping},
		{name: "sequence", content: "- a\n- b\n", want: manifest.ErrNotMapping},
		{name: "scalar", content: "zlib\n", want: manifest.ErrNotMapping},
		{name: "syntax", content: "name: [unterminated\n"},
		{name: "two documents", content: "name: zlib\n---\nname: other\n", want: manifest.ErrMultipleDocuments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := manifest.Parse([]byte(tt.content))
			require.Error(t, err)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestDocument_Manifest(t *testing.T) {
	t.Parallel()

	content := `name: zlib
version: 1.3.1
git:
  repo: https://github.com/madler/zlib
  ref: v1.3.1
files:
  - url: https://zlib.net/zlib-1.3.1.tar.gz
    extract-dir: src
  - url: https://example.com/patch.diff
    no-extract: true
build:
  command: ./build.sh
export: ZLIB_ROOT
`

	doc, err := manifest.Parse([]byte(content))
	require.NoError(t, err)

	m, err := doc.Manifest()
	require.NoError(t, err)

	assert.Equal(t, "zlib", m.Name)
	assert.Equal(t, "1.3.1", m.Version)
	require.NotNil(t, m.Git)
	assert.Equal(t, "v1.3.1", m.Git.Ref)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "src", m.Files[0].ExtractDir)
	assert.True(t, m.Files[1].NoExtract)
	require.NotNil(t, m.Build)
	assert.Equal(t, "./build.sh", m.Build.Command)
	assert.Equal(t, "ZLIB_ROOT", m.Export)
}

func TestLoader_ExistsAndPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeManifest(t, root, "alpha", "name: alpha\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "beta", manifest.FileName), 0o755))

	loader := manifest.NewLoader(root, "")

	assert.Equal(t, manifest.FileName, loader.FileName())
	assert.Equal(t, "alpha/lib.yaml", loader.Path("alpha"))
	assert.True(t, loader.Exists("alpha"))
	assert.False(t, loader.Exists("beta"), "a directory named lib.yaml is not a manifest")
	assert.False(t, loader.Exists("missing"))
}

func TestLoader_CheckName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeManifest(t, root, "alpha", "name: alpha\n")
	writeManifest(t, root, "beta", "name: wrong\n")
	writeManifest(t, root, "gamma", "name: [gamma\n")

	loader := manifest.NewLoader(root, manifest.FileName)

	require.NoError(t, loader.CheckName("alpha"))

	err := loader.CheckName("beta")
	require.ErrorIs(t, err, manifest.ErrNameMismatch)

	var mismatch *manifest.MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "beta/lib.yaml", mismatch.Path)
	assert.Equal(t, "wrong", mismatch.Declared)
	assert.Equal(t, "beta", mismatch.Directory)
	assert.Equal(t, "Package name 'wrong' in beta/lib.yaml does not match directory name 'beta'", mismatch.Error())

	err = loader.CheckName("gamma")
	require.ErrorIs(t, err, manifest.ErrManifestRead)

	var readErr *manifest.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "gamma/lib.yaml", readErr.Path)

	err = loader.CheckName("missing")
	require.ErrorIs(t, err, manifest.ErrManifestRead)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_CustomFileName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "alpha"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha", "pkg.yaml"), []byte("name: alpha\n"), 0o600))

	loader := manifest.NewLoader(root, "pkg.yaml")

	assert.True(t, loader.Exists("alpha"))
	assert.Equal(t, "alpha/pkg.yaml", loader.Path("alpha"))
	require.NoError(t, loader.CheckName("alpha"))

	info, err := loader.Stat("alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(len("name: alpha\n")), info.Size())
}
