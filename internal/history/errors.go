package history

import (
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

var (
	// ErrOpenFailed indicates the SQLite database could not be opened.
	ErrOpenFailed = ferrors.FileSystemError("could not open build history database").Build()

	// ErrSchemaFailed indicates the schema could not be created.
	ErrSchemaFailed = ferrors.RuntimeError("failed to initialize build history schema").Build()

	// ErrAppendFailed indicates a cycle record could not be stored.
	ErrAppendFailed = ferrors.RuntimeError("failed to append cycle to build history").Build()

	// ErrQueryFailed indicates reading records failed.
	ErrQueryFailed = ferrors.RuntimeError("failed to query build history").Build()

	// ErrNotFound is returned by Get for an unknown cycle id.
	ErrNotFound = ferrors.NotFoundError("cycle not found in build history").Build()
)
