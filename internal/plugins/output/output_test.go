package output

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/session"
	"git.home.luguber.info/inful/tsbuild/internal/testutil"
)

func TestRename(t *testing.T) {
	assert.Equal(t, "logo-ABCDEFGH.png", Rename("[name]-[hash][ext]", "logo.png", "ABCDEFGHIJKL"))
	assert.Equal(t, "static/logo.png", Rename("static/[name][ext]", "logo.png", ""))
	assert.Equal(t, "LICENSE-x", Rename("[name]-[hash][ext]", "LICENSE", "x"))
}

func TestWriteRenamesAssetsOnly(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Pattern: "[name].[hash][ext]", Logger: testutil.DiscardLogger()}

	err := w.Write([]api.OutputFile{
		{Path: filepath.Join(dir, "main.js"), Contents: []byte("console.log(1)"), Hash: "JSHASH0001"},
		{Path: filepath.Join(dir, "main.js.map"), Contents: []byte("{}"), Hash: "MAPHASH001"},
		{Path: filepath.Join(dir, "img", "logo.png"), Contents: []byte("png"), Hash: "PNGHASH001"},
	})
	require.NoError(t, err)

	files := testutil.NewFileAssertions(t, dir)
	files.AssertFileContains("main.js", "console.log(1)").
		AssertFileExists("main.js.map").
		AssertFileExists("img/logo.PNGHASH0.png").
		AssertFileNotExists("img/logo.png")
}

func TestModifyConfigDisablesEngineWrites(t *testing.T) {
	p := testutil.NewProject(t, "demo").WithFile("src/main.ts", "export {}\n")
	cfg := p.Config().WithEntrypoints("src/main.ts").Build()
	cfg.Output.AssetNames = "[name]-[hash][ext]"

	s, err := session.Create(t.Context(), cfg, session.ModeBuild,
		session.WithLogger(testutil.DiscardLogger()),
		session.WithPlugins(New(Options{})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Terminate(context.Background()) })

	require.NoError(t, s.Plugins.ModifyConfig(t.Context()))
	assert.False(t, s.Config().EngineWrites())
	assert.Len(t, s.Plugins.Pipeline().EsbuildPlugins(true), 1)
	assert.Len(t, s.Plugins.Pipeline().EsbuildPlugins(false), 1)
}

func TestFactoryDecodesPattern(t *testing.T) {
	_, err := Factory(map[string]any{"asset_names": "[name][ext]"})
	assert.NoError(t, err)
	_, err = Factory(map[string]any{"assetNames": "x"})
	assert.Error(t, err)
}
