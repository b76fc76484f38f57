// Package daemonctl is the CLI side of the daemon's HTTP surface: health
// queries for "mediadump status" and remote exports for "mediadump export
// --remote".
package daemonctl
