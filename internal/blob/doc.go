// Package blob stages conversion inputs and outputs.
//
// Blobs are addressed by a Ref: a container derived from the tool category
// ("gpx-uploads", "gpx-processed") and a key derived from the execution ID and
// extension. Refs are write-once. Put refuses to overwrite an existing blob
// and nothing mutates stored bytes; only Delete removes them.
//
// Two backends implement Store: FSStore keeps blobs under a local directory,
// MinIOStore keeps them in an S3-compatible bucket.
package blob
