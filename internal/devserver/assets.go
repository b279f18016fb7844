package devserver

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/evanw/esbuild/pkg/api"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// AssetMap holds in-memory build output keyed by slash-separated path
// relative to the output directory.
type AssetMap struct {
	current atomic.Pointer[cmap.ConcurrentMap[string, []byte]]
}

func NewAssetMap() *AssetMap {
	a := &AssetMap{}
	m := cmap.New[[]byte]()
	a.current.Store(&m)
	return a
}

// Replace swaps in the output files of one build. Files outside outdir are
// dropped.
func (a *AssetMap) Replace(outdir string, files []api.OutputFile) {
	m := cmap.New[[]byte]()
	for _, f := range files {
		rel, err := filepath.Rel(outdir, f.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		m.Set(filepath.ToSlash(rel), f.Contents)
	}
	a.current.Store(&m)
}

// Get returns the contents stored for path. A leading slash is ignored.
func (a *AssetMap) Get(path string) ([]byte, bool) {
	return a.current.Load().Get(strings.TrimPrefix(path, "/"))
}

func (a *AssetMap) Len() int { return a.current.Load().Count() }

// Keys lists the stored paths in no particular order.
func (a *AssetMap) Keys() []string { return a.current.Load().Keys() }
