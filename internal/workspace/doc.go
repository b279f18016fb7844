// Package workspace manages scratch directories for generated files such as
// compiler configurations.
//
// Ephemeral mode creates a unique directory (e.g. tsbuild-20251214-122336-123)
// under a base directory and removes it on Cleanup.
//
// Persistent mode uses a fixed directory (e.g. node_modules/.cache/tsbuild/esm)
// that survives Cleanup, so tools that resolve paths relative to their config
// file keep working across runs.
package workspace
