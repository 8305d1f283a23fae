// Package beacon defines the visitor telemetry types shared across the ingestion
// pipeline: the raw Submission decoded from the public endpoint, the enriched Event
// that is persisted and announced, and the collaborator interfaces (stores, sinks,
// geolocation sources) the pipeline depends on.
package beacon
