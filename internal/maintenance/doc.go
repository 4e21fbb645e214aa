// Package maintenance rewrites a comparison whose destination is a
// maintained update channel so that it compares against the maintenance
// incident that actually carries the released sources.
package maintenance
