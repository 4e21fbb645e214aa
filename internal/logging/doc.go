// Package logging builds the slog handlers used by abigate.
//
// Terminal output goes through a tint handler; plain and JSON formats use the
// standard slog handlers. [Mirror] copies records at or above a threshold to
// a line sink, which the result store uses to keep a per-request log.
package logging
