package devserver

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFor(t *testing.T) {
	meta := `{"outputs":{
		"dist/main.js":{"entryPoint":"src/main.ts"},
		"dist/main.js.map":{},
		"dist/other.js":{"entryPoint":"src/other.ts"}}}`

	out, err := OutputFor(meta, "/proj", "/proj/src/main.ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/proj", "dist", "main.js"), out)

	_, err = OutputFor(meta, "/proj", "/proj/src/missing.ts")
	assert.Error(t, err)
	_, err = OutputFor("", "/proj", "/proj/src/main.ts")
	assert.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAppServerRestartsProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()
	script := filepath.Join(root, "dist", "main.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, []byte("echo started; trap 'exit 0' TERM; while :; do sleep 0.05; done\n"), 0o644))

	out := &syncBuffer{}
	s := NewAppServer(AppOptions{
		Command:     "/bin/sh",
		Root:        root,
		Entrypoint:  filepath.Join(root, "src", "main.ts"),
		KillTimeout: 2 * time.Second,
		Stdout:      out,
		Logger:      quietLogger(),
	})
	t.Cleanup(func() { _ = s.Close(t.Context()) })
	result := api.BuildResult{Metafile: `{"outputs":{"dist/main.js":{"entryPoint":"src/main.ts"}}}`}

	require.NoError(t, s.Start(t.Context(), result))
	first := s.PID()
	require.NotZero(t, first)

	require.NoError(t, s.Start(t.Context(), result))
	second := s.PID()
	assert.NotEqual(t, first, second)

	require.Eventually(t, func() bool {
		return bytes.Count([]byte(out.String()), []byte("started")) == 2
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Close(t.Context()))
	assert.Zero(t, s.PID())
}
