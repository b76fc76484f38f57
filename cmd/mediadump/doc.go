// Command mediadump exports voice and video references listed in a JSON
// manifest into a single ZIP archive.
//
// "mediadump serve" runs the HTTP daemon (POST /dump, GET /health).
// "mediadump export" runs one job locally, or against a running daemon with
// --remote. The remaining commands inspect dependencies, configuration, and
// leftover scratch state.
package main
