// Package services wires retrieval, effectiveness tracking, reporting and
// context rendering behind a single LearnService.
//
// LearnService is the surface the HTTP API and the CLI call. Use
// NewLearnService with an Options value holding the component instances.
package services
