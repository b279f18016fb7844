package declarations

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/declaration"
	"git.home.luguber.info/inful/tsbuild/internal/entrypoint"
	"git.home.luguber.info/inful/tsbuild/internal/session"
	"git.home.luguber.info/inful/tsbuild/internal/testutil"
)

type recorder struct {
	mu      sync.Mutex
	emits   map[config.Format]int
	payload []declaration.Payload
	closed  int
	fail    error
}

type fakeCompiler struct {
	r      *recorder
	format config.Format
}

func (c *fakeCompiler) Emit(context.Context) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.emits[c.format]++
	return c.r.fail
}

func (c *fakeCompiler) Close() error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.closed++
	return nil
}

func (r *recorder) factory(_ context.Context, p declaration.Payload) (declaration.Compiler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = append(r.payload, p)
	return &fakeCompiler{r: r, format: p.Format}, nil
}

func libProject(t *testing.T) (*testutil.Project, *config.Config) {
	p := testutil.NewProject(t, "lib").WithFile("src/index.ts", "export const answer = 42\n")
	cfg := p.Config().WithPreset(config.PresetLib).WithEntrypoints("src/index.ts").Build()
	return p, cfg
}

func create(t *testing.T, cfg *config.Config) *session.Session {
	t.Helper()
	s, err := session.Create(t.Context(), cfg, session.ModeBuild, session.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Terminate(context.Background()) })
	return s
}

func TestDeclinesWhenSkippedOrDisabled(t *testing.T) {
	_, cfg := libProject(t)
	s := create(t, cfg)

	t.Setenv(SkipEnv, "1")
	a, err := New(Options{})(t.Context(), s)
	require.NoError(t, err)
	assert.Nil(t, a)

	t.Setenv(SkipEnv, "")
	cfg.Declarations.Enabled = config.Bool(false)
	a, err = New(Options{})(t.Context(), s)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestEmitsPerBackendFormat(t *testing.T) {
	t.Setenv(SkipEnv, "")
	p, cfg := libProject(t)
	p.WithFile("src/index.ts", "export { answer } from './util'\n").
		WithFile("src/util.ts", "export const answer = 42\n")
	s := create(t, cfg)

	sets, err := entrypoint.Resolve(t.Context(), entrypoint.Input{
		Options:     api.BuildOptions{AbsWorkingDir: p.Root(), Outdir: p.Path("dist"), Format: api.FormatESModule},
		Declared:    s.Entrypoints.Declared(),
		ProjectRoot: s.Repository.ProjectRoot,
	})
	require.NoError(t, err)
	require.True(t, s.Entrypoints.Set(sets))
	rec := &recorder{emits: map[config.Format]int{}}

	a, err := New(Options{Factory: rec.factory, CompilerOptions: map[string]any{"stripInternal": true}})(t.Context(), s)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NoError(t, a.Initialise(t.Context()))

	for _, format := range []api.Format{api.FormatESModule, api.FormatCommonJS} {
		result := api.Build(api.BuildOptions{
			AbsWorkingDir: p.Root(),
			EntryPoints:   []string{p.Path("src/index.ts")},
			Outdir:        p.Path("dist"),
			Format:        format,
			Write:         false,
			LogLevel:      api.LogLevelSilent,
			Plugins:       []api.Plugin{*a.Esbuild(format == api.FormatESModule)},
		})
		require.Empty(t, result.Errors)
	}

	rec.mu.Lock()
	assert.Equal(t, 1, rec.emits[config.FormatESM])
	assert.Equal(t, 1, rec.emits[config.FormatCJS])
	require.Len(t, rec.payload, 2)
	assert.ElementsMatch(t, []string{p.Path("src/index.ts"), p.Path("src/util.ts")}, rec.payload[0].Entrypoints)
	assert.Equal(t, s.Entrypoints.Generic(), rec.payload[1].Entrypoints)
	assert.Equal(t, true, rec.payload[0].CompilerOverrides["stripInternal"])
	rec.mu.Unlock()

	require.NoError(t, a.Terminate(t.Context()))
	rec.mu.Lock()
	assert.Equal(t, 2, rec.closed)
	rec.mu.Unlock()
}

func TestEmitFailureDoesNotFailBuild(t *testing.T) {
	t.Setenv(SkipEnv, "")
	p, cfg := libProject(t)
	s := create(t, cfg)
	rec := &recorder{emits: map[config.Format]int{}, fail: errors.New("TS2304: cannot find name")}

	a, err := New(Options{Factory: rec.factory})(t.Context(), s)
	require.NoError(t, err)
	require.NoError(t, a.Initialise(t.Context()))
	t.Cleanup(func() { _ = a.Terminate(context.Background()) })

	result := api.Build(api.BuildOptions{
		AbsWorkingDir: p.Root(),
		EntryPoints:   []string{p.Path("src/index.ts")},
		Outdir:        p.Path("dist"),
		Write:         false,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{*a.Esbuild(true)},
	})
	assert.Empty(t, result.Errors)
}

func TestFactoryDecodesCompilerOptions(t *testing.T) {
	_, err := Factory(map[string]any{"compiler_options": map[string]any{"stripInternal": true}})
	assert.NoError(t, err)
	_, err = Factory(map[string]any{"tsc": "x"})
	assert.Error(t, err)
}
