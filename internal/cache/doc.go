// Package cache keeps downloaded build artifacts on disk between runs.
//
// Files are laid out as <dir>/<project>/<package>/<repo>/<arch>/<filename>.
// The build service reports an mtime for every binary; the cached copy
// carries that mtime as its modification time and is reused only while the
// two agree. Writes go through a temporary file that is renamed into place.
//
// The default cache directory is $XDG_CACHE_HOME/abigate/downloads (or the
// OS-appropriate equivalent).
package cache
