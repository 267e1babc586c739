package detect_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/detect-changes/pkg/detect"
	"github.com/goplus/detect-changes/pkg/gitlib"
	"github.com/goplus/detect-changes/pkg/manifest"
)

func packageFixture(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	writeManifest(t, root, "zlib", "name: zlib\nversion: 1.3.1\ngit:\n  repo: https://github.com/madler/zlib\n  ref: v1.3.1\n")
	writeManifest(t, root, "cjson", "name: cjson\nfiles:\n  - url: https://example.com/a.tar.gz\n  - url: https://example.com/b.tar.gz\n")
	writeManifest(t, root, "beta", "name: wrong\n")
	writeManifest(t, root, "gamma", "name: [gamma\n")
	writeManifest(t, root, "extra", "name: extra\nhomepage: https://example.com\n")

	return root
}

func TestPackages(t *testing.T) {
	t.Parallel()

	root := packageFixture(t)

	packages, err := newDetector(root, &gitlib.FakeVCS{}, &bytes.Buffer{}).Packages(context.Background())
	require.NoError(t, err)
	require.Len(t, packages, 5)

	byDir := make(map[string]detect.Package)
	for _, pkg := range packages {
		byDir[pkg.Dir] = pkg
	}

	zlib := byDir["zlib"]
	assert.Equal(t, detect.StatusOK, zlib.Status)
	assert.Equal(t, "1.3.1", zlib.Version)
	assert.Equal(t, "https://github.com/madler/zlib@v1.3.1", zlib.Source)
	assert.Equal(t, "zlib/lib.yaml", zlib.Manifest)
	assert.Positive(t, zlib.Size)

	assert.Equal(t, "2 files", byDir["cjson"].Source)

	assert.Equal(t, detect.StatusMismatch, byDir["beta"].Status)
	assert.Equal(t, "wrong", byDir["beta"].Name)

	assert.Equal(t, detect.StatusError, byDir["gamma"].Status)
	assert.NotEmpty(t, byDir["gamma"].Problems)

	assert.Equal(t, detect.StatusOK, byDir["extra"].Status)

	assert.True(t, detect.Failed(packages))
	assert.False(t, detect.Failed([]detect.Package{zlib}))
}

func TestAudit_SchemaViolations(t *testing.T) {
	t.Parallel()

	root := packageFixture(t)

	schema, err := manifest.DefaultSchema()
	require.NoError(t, err)

	packages, err := newDetector(root, &gitlib.FakeVCS{}, &bytes.Buffer{}).Audit(context.Background(), schema)
	require.NoError(t, err)

	byDir := make(map[string]detect.Package)
	for _, pkg := range packages {
		byDir[pkg.Dir] = pkg
	}

	assert.Equal(t, detect.StatusOK, byDir["zlib"].Status)
	assert.Empty(t, byDir["zlib"].Problems)

	assert.Equal(t, detect.StatusError, byDir["extra"].Status)
	assert.NotEmpty(t, byDir["extra"].Problems)

	assert.Equal(t, detect.StatusMismatch, byDir["beta"].Status)
}

func TestPackages_Empty(t *testing.T) {
	t.Parallel()

	packages, err := newDetector(t.TempDir(), &gitlib.FakeVCS{}, &bytes.Buffer{}).Packages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, packages)
}
