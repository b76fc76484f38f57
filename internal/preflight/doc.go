// Package preflight provides readiness checks for the filesystem paths and
// external binaries mediadump depends on.
//
// The daemon runs RunAll at startup and refuses to serve when a directory
// check fails. The CLI "mediadump deps" command uses CheckSystemDeps to
// display binary availability.
package preflight
