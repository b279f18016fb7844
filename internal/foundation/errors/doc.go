// Package errors provides classified errors for tsbuild.
//
// A ClassifiedError carries a category, a severity and structured context.
// The CLI adapter maps categories to exit codes and the HTTP adapter maps
// them to status codes for the dev server.
//
//	err := errors.WrapError(cause, errors.CategoryBackend, "esbuild rebuild failed").
//		WithContext("format", "esm").
//		Build()
package errors
