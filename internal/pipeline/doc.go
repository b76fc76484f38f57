// Package pipeline runs export jobs end to end.
//
// A job validates its manifest, allocates a workspace, fetches every voice
// and video reference on a bounded worker pool, converts voice clips, and
// archives the workspace into <archive_dir>/<jobID>.zip. Per-item failures are
// recorded in ItemReport and never abort the job; only workspace and archive
// failures are fatal. The workspace is removed before Run returns, and the
// archive is removed by Result.Cleanup once the caller has delivered it.
package pipeline
