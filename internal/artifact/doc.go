// Package artifact stores the HTML reports written by the ABI checker
// beyond the lifetime of a run, either in a local directory or in an S3
// compatible bucket. Reports are keyed "<requestID>/<name>".
package artifact
