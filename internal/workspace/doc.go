// Package workspace owns per-job scratch directories.
//
// Each export job receives <scratch>/<jobID>/{voices,videos}. Manager.With is
// the scoped acquisition used by the pipeline: it allocates, runs the job body,
// and removes the tree on every exit path. CleanStale reclaims job directories
// and archives left behind by crashed processes.
package workspace
