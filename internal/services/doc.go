// Package services defines shared utilities consumed by the export pipeline
// and its HTTP controller.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the controller
//     translate failures into HTTP statuses (client error vs server error)
//     and stable error codes.
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay uniform across the job lifecycle.
package services
