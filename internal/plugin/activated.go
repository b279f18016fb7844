// Package plugin defines the activated plugin record and the pipeline that
// dispatches lifecycle hooks across every activated plugin.
package plugin

import (
	"context"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/tsbuild/internal/config"
)

// Hook is a lifecycle callback. A nil Hook is a no-op.
type Hook func(ctx context.Context) error

// Hook names as they appear in logs, errors and metrics.
const (
	HookInitialise         = "initialise"
	HookTerminate          = "terminate"
	HookModifyConfig       = "modifyConfig"
	HookTransformIndexHTML = "transformIndexHtml"
	HookOnStartup          = "onStartup"
	HookOnShutdown         = "onShutdown"
	HookPreBuild           = "preBuild"
	HookOnBuildStart       = "onBuildStart"
	HookOnBuild            = "onBuild"
	HookOnBuildEnd         = "onBuildEnd"
	HookPostBuild          = "postBuild"
)

// Activated is the capability record a plugin returns once it decides to
// take part in a session. Every field except Name is optional.
type Activated struct {
	Name string

	Initialise Hook
	Terminate  Hook

	// ModifyConfig may mutate the configuration before it is sealed.
	ModifyConfig func(ctx context.Context, cfg *config.Config) error

	// Esbuild returns an engine-native plugin for one backend instance, or
	// nil to skip that instance. leader is true for exactly one instance.
	Esbuild func(leader bool) *api.Plugin

	// TransformIndexHTML edits the generated index document in place.
	TransformIndexHTML func(ctx context.Context, doc *html.Node) error

	OnStartup    Hook
	OnShutdown   Hook
	PreBuild     Hook
	OnBuildStart Hook
	OnBuild      Hook
	OnBuildEnd   Hook
	PostBuild    Hook
}

func (a *Activated) hook(name string) Hook {
	switch name {
	case HookInitialise:
		return a.Initialise
	case HookTerminate:
		return a.Terminate
	case HookOnStartup:
		return a.OnStartup
	case HookOnShutdown:
		return a.OnShutdown
	case HookPreBuild:
		return a.PreBuild
	case HookOnBuildStart:
		return a.OnBuildStart
	case HookOnBuild:
		return a.OnBuild
	case HookOnBuildEnd:
		return a.OnBuildEnd
	case HookPostBuild:
		return a.PostBuild
	default:
		return nil
	}
}
