// Package buildmsg converts engine diagnostics into classified errors.
package buildmsg

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Format renders engine messages the way the engine prints them, without color.
func Format(kind api.MessageKind, msgs []api.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	lines := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: kind})
	return strings.TrimSpace(strings.Join(lines, ""))
}

// Error returns nil when msgs is empty, otherwise one build error listing
// every message.
func Error(message string, msgs []api.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	b := ferrors.BuildError(message + ":\n" + Format(api.ErrorMessage, msgs)).
		WithContext("errors", len(msgs))
	if loc := msgs[0].Location; loc != nil {
		b = b.WithContext("path", loc.File).WithContext("line", loc.Line)
	}
	return b.Build()
}
