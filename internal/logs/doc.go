// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last lines (optionally only those tagged with one job id)
// together with an offset to resume from; Follow keeps streaming new lines
// until its context ends.
package logs
