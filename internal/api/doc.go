// Package api serves the public HTTP surface and defines its wire types.
//
// # Routes
//
//	POST   /tools/{tool}/convert     multipart upload; 202 with a receipt
//	GET    /executions/{id}/status   poll
//	GET    /executions/{id}/download stream the result; 409 until completed
//	DELETE /executions/{id}          early cleanup; idempotent
//	GET    /tools                    registered tool descriptors
//	GET    /healthz                  liveness plus record counts
//
// Every error body is {"message", "code"}. Validation failures carry the
// tool's own code; unknown executions and reaped results are "not_found".
//
// # Design Notes
//
// The upload is streamed straight from the multipart reader into the
// gateway, which reads only as far as the tool's size limit. Form fields
// that precede the file part become parameters, as do query string values.
// Fields after the file part are ignored because the gateway has already
// consumed the upload by then.
//
// DTOs use snake_case JSON tags. Timestamps use RFC3339 with milliseconds.
package api
