// Package devserver serves dev-mode builds. The web variant serves build
// output over HTTP with live reload; the app variant restarts a node process
// after every successful build. Both hold requests or restarts behind a
// BuildLock while the leader backend compiles.
package devserver

import (
	"context"
	"hash/fnv"
	"slices"
	"strconv"

	"github.com/evanw/esbuild/pkg/api"
)

// Server is one dev server variant.
type Server interface {
	AcquireLock() error
	ReleaseLock()
	// Start publishes the result of a successful build.
	Start(ctx context.Context, result api.BuildResult) error
	Close(ctx context.Context) error
}

// ResultHash fingerprints a build result for live reload.
func ResultHash(result api.BuildResult) string {
	h := fnv.New64a()
	files := slices.Clone(result.OutputFiles)
	slices.SortFunc(files, func(a, b api.OutputFile) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	for _, f := range files {
		_, _ = h.Write([]byte(f.Path))
		_, _ = h.Write([]byte(f.Hash))
		_, _ = h.Write(f.Contents)
	}
	_, _ = h.Write([]byte(result.Metafile))
	return strconv.FormatUint(h.Sum64(), 36)
}
