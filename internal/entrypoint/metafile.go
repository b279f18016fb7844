package entrypoint

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Metafile is the engine's build metadata document.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"`
}

type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
	CSSBundle  string                  `json:"cssBundle,omitempty"`
}

type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// ParseMetafile decodes the metafile string attached to a build result.
func ParseMetafile(raw string) (*Metafile, error) {
	if raw == "" {
		return &Metafile{}, nil
	}
	var m Metafile
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryBuild, "decode metafile").Build()
	}
	return &m, nil
}

// OutputFor returns the output path (relative to the working directory)
// generated for entry, an input path as it appears in the metafile.
func (m *Metafile) OutputFor(entry string) (string, bool) {
	for out, meta := range m.Outputs {
		if meta.EntryPoint == entry {
			return out, true
		}
	}
	return "", false
}

// OutputForSource is OutputFor for an absolute source path. Metafile paths
// are relative to root; the returned output path is absolute. Stylesheets
// that share the entry point are skipped.
func (m *Metafile) OutputForSource(root, source string) (string, bool) {
	want := filepath.Clean(source)
	for out, meta := range m.Outputs {
		if meta.EntryPoint == "" || strings.HasSuffix(out, ".css") {
			continue
		}
		if filepath.Join(root, filepath.FromSlash(meta.EntryPoint)) == want {
			return filepath.Join(root, filepath.FromSlash(out)), true
		}
	}
	return "", false
}

// CSSOutputs returns the absolute paths of every stylesheet output, sorted.
func (m *Metafile) CSSOutputs(root string) []string {
	var out []string
	for path := range m.Outputs {
		if strings.HasSuffix(path, ".css") {
			out = append(out, filepath.Join(root, filepath.FromSlash(path)))
		}
	}
	slices.Sort(out)
	return out
}
