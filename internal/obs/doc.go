// Package obs is a small client for the build-service HTTP API.
//
// It covers the read-only queries the ABI checker needs (source info, build
// results, project meta, binary listings, packed RPM headers and binary
// downloads), plus request lookup and review-state changes. Responses are
// XML. Requests use basic auth and are retried with exponential backoff on
// rate limiting and transient server errors. Source info pinned to a
// revision is immutable and memoised in an LRU cache.
package obs
