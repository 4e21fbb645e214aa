// Package redact removes credentials from text before it is logged, stored
// in the result database or shown to a user.
//
// Detection uses regex heuristics covering the shapes that show up around a
// build-service client: passwords embedded in URLs, HTTP authorization
// values, S3 access keys, password and token assignments, and private key
// blocks.
package redact
