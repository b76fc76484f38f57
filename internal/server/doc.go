// Package server exposes the export pipeline over HTTP.
//
// POST /dump accepts a manifest and streams back the job's ZIP archive; the
// archive is deleted once the response has been written. GET /health reports
// transcoder availability and in-flight jobs. Errors are JSON objects carrying
// a stable code derived from the services error markers.
package server
