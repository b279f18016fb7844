package runner

import (
	"errors"

	"git.home.luguber.info/inful/tsbuild/internal/plugin"
)

// Phase names as recorded in metrics and cycle events. The compile phase
// covers the backends together with the OnBuild hooks.
const (
	PhasePreBuild     = plugin.HookPreBuild
	PhaseOnBuildStart = plugin.HookOnBuildStart
	PhaseCompile      = "compile"
	PhaseOnBuildEnd   = plugin.HookOnBuildEnd
	PhasePostBuild    = plugin.HookPostBuild
)

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}
