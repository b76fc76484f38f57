// Package daemon coordinates the long-running mediadump process.
//
// It wires the HTTP job controller and the stale workspace sweeper into a
// single lifecycle with flock-based locking on the scratch root, so only one
// process sweeps a given scratch directory. Export jobs themselves carry no
// global lock.
//
// Keep orchestration logic here: job processing lives in the pipeline
// package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
