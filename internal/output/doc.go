// Package output formats check outcomes for display or machine consumption.
//
// Three formats are supported:
//   - text     for the terminal (default)
//   - json     with the full outcome, including per-repository results
//   - markdown with a library table, suitable for review comments
//
// Use [GetWriter] to obtain a [Writer] for a given format string, then call
// [Writer.Write] with an [io.Writer] and a [*review.Outcome]. [WriteOutcome]
// handles destination selection.
package output
