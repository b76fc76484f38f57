// Package daemonrun wires configuration, logging, the export pipeline, and
// the HTTP controller into the "mediadump serve" process.
package daemonrun
