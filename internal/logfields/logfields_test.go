package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"CycleID", KeyCycleID, "c1", CycleID("c1")},
		{"Phase", KeyPhase, "preBuild", Phase("preBuild")},
		{"Hook", KeyHook, "onBuildEnd", Hook("onBuildEnd")},
		{"Plugin", KeyPlugin, "serve", Plugin("serve")},
		{"Backend", KeyBackend, "esbuild", Backend("esbuild")},
		{"Format", KeyFormat, "esm", Format("esm")},
		{"Mode", KeyMode, "dev", Mode("dev")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Addr", KeyAddr, "127.0.0.1:3000", Addr("127.0.0.1:3000")},
		{"Project", KeyProject, "app", Project("app")},
	}

	for _, tc := range cases {
		// Key drift would break log ingestion schemas.
		assert.Equal(t, tc.attrKey, tc.attr.Key, tc.name)
		assert.Equal(t, tc.attrVal, tc.attr.Value.String(), tc.name)
	}
}

func TestNumericHelpers(t *testing.T) {
	assert.Equal(t, int64(42), PID(42).Value.Int64())
	assert.Equal(t, int64(3), Count(3).Value.Int64())
	assert.InDelta(t, 1500.0, Duration(1500*time.Millisecond).Value.Float64(), 0.001)
}

func TestErrorHelper(t *testing.T) {
	assert.Equal(t, "", Error(nil).Value.String())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value.String())
	assert.Equal(t, KeyError, Error(nil).Key)
}
