package plugin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func TestModifyConfigRunsInOrderAndStopsAtFirstError(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	p := NewPipeline([]*Activated{
		{Name: "a", ModifyConfig: func(_ context.Context, cfg *config.Config) error {
			order = append(order, "a")
			cfg.Outdir = "from-a"
			return nil
		}},
		{Name: "b"},
		{Name: "c", ModifyConfig: func(context.Context, *config.Config) error {
			order = append(order, "c")
			return boom
		}},
		{Name: "d", ModifyConfig: func(context.Context, *config.Config) error {
			order = append(order, "d")
			return nil
		}},
	}, nil)

	cfg := config.Defaults()
	err := p.ModifyConfig(t.Context(), cfg)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, "from-a", cfg.Outdir)

	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryPlugin, ce.Category())
	plugin, _ := ce.Context().GetString("plugin")
	assert.Equal(t, "c", plugin)
}

func TestBuildHooksCollectEveryError(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var mu sync.Mutex
	ran := map[string]bool{}
	mark := func(name string, err error) Hook {
		return func(context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return err
		}
	}

	p := NewPipeline([]*Activated{
		{Name: "a", PreBuild: mark("a", errA)},
		{Name: "b", PreBuild: mark("b", errB)},
		{Name: "c", PreBuild: mark("c", nil)},
		{Name: "nil-hooks"},
	}, nil)

	err := p.PreBuild(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, ran)
}

func TestNilHooksAreNoOps(t *testing.T) {
	p := NewPipeline([]*Activated{{Name: "empty"}, nil}, nil)
	ctx := t.Context()

	assert.NoError(t, p.Initialise(ctx))
	assert.NoError(t, p.OnStartup(ctx))
	assert.NoError(t, p.PreBuild(ctx))
	assert.NoError(t, p.OnBuildStart(ctx))
	assert.NoError(t, p.StartOnBuild(ctx).Wait())
	assert.NoError(t, p.OnBuildEnd(ctx))
	assert.NoError(t, p.PostBuild(ctx))
	assert.NoError(t, p.OnShutdown(ctx))
	assert.NoError(t, p.Terminate(ctx))
	assert.NoError(t, p.ModifyConfig(ctx, config.Defaults()))
	assert.Empty(t, p.EsbuildPlugins(true))
	assert.Equal(t, []string{"empty"}, p.Names())
}

func TestStartOnBuildDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	boom := errors.New("on build failed")
	p := NewPipeline([]*Activated{{
		Name: "slow",
		OnBuild: func(context.Context) error {
			<-release
			return boom
		},
	}}, nil)

	pending := p.StartOnBuild(t.Context())

	waited := make(chan error, 1)
	go func() { waited <- pending.Wait() }()

	select {
	case <-waited:
		t.Fatal("Wait returned before the hook finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-waited:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the hook finished")
	}
}

func TestEsbuildPluginsHonourLeader(t *testing.T) {
	p := NewPipeline([]*Activated{
		{Name: "always", Esbuild: func(bool) *api.Plugin {
			return &api.Plugin{Name: "always", Setup: func(api.PluginBuild) {}}
		}},
		{Name: "leader-only", Esbuild: func(leader bool) *api.Plugin {
			if !leader {
				return nil
			}
			return &api.Plugin{Name: "leader-only", Setup: func(api.PluginBuild) {}}
		}},
	}, nil)

	names := func(ps []api.Plugin) []string {
		out := make([]string, len(ps))
		for i, ep := range ps {
			out[i] = ep.Name
		}
		return out
	}
	assert.Equal(t, []string{"always", "leader-only"}, names(p.EsbuildPlugins(true)))
	assert.Equal(t, []string{"always"}, names(p.EsbuildPlugins(false)))
}

func TestTransformIndexHTMLRunsInOrder(t *testing.T) {
	doc, err := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	require.NoError(t, err)

	var order []string
	p := NewPipeline([]*Activated{
		{Name: "first", TransformIndexHTML: func(context.Context, *html.Node) error {
			order = append(order, "first")
			return nil
		}},
		{Name: "second", TransformIndexHTML: func(context.Context, *html.Node) error {
			order = append(order, "second")
			return nil
		}},
	}, nil)

	require.NoError(t, p.TransformIndexHTML(t.Context(), doc))
	assert.Equal(t, []string{"first", "second"}, order)
}
