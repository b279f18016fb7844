package optionaldeps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/testutil"
)

func TestModuleName(t *testing.T) {
	cases := map[string]string{
		"lodash":          "lodash",
		"lodash/fp":       "lodash",
		"@scope/pkg":      "@scope/pkg",
		"@scope/pkg/deep": "@scope/pkg",
	}
	for in, want := range cases {
		assert.Equal(t, want, ModuleName(in), in)
	}
}

func TestExternalOnlyForMissingOptionalPeers(t *testing.T) {
	p := testutil.NewProject(t, "demo").
		WithPackageField("peerDependencies", map[string]string{"canvas": "*", "sharp": "*", "react": "*"}).
		WithPackageField("peerDependenciesMeta", map[string]any{
			"canvas": map[string]bool{"optional": true},
			"sharp":  map[string]bool{"optional": true},
		}).
		WithFile("node_modules/sharp/package.json", `{"name":"sharp"}`).
		WithFile("src/main.ts", "export {}\n")
	r := NewResolver(p.Root())
	dir := p.Path("src")

	ext, err := r.External("canvas", dir)
	require.NoError(t, err)
	assert.True(t, ext, "optional and missing")

	ext, err = r.External("sharp/lib", dir)
	require.NoError(t, err)
	assert.False(t, ext, "optional but installed")

	ext, err = r.External("react", dir)
	require.NoError(t, err)
	assert.False(t, ext, "required peer")

	ext, err = r.External("./local", dir)
	require.NoError(t, err)
	assert.False(t, ext)
}

func TestDecisionsAreCached(t *testing.T) {
	p := testutil.NewProject(t, "demo").
		WithPackageField("peerDependenciesMeta", map[string]any{"canvas": map[string]bool{"optional": true}}).
		WithFile("src/main.ts", "export {}\n")
	r := NewResolver(p.Root())

	ext, err := r.External("canvas", p.Path("src"))
	require.NoError(t, err)
	require.True(t, ext)

	p.WithFile("node_modules/canvas/package.json", `{"name":"canvas"}`)
	ext, err = r.External("canvas", p.Path("src"))
	require.NoError(t, err)
	assert.True(t, ext, "first decision sticks for the session")
}

func TestMissingManifestIsAnError(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver(dir)
	_, err := r.External("canvas", dir)
	assert.Error(t, err)
}
