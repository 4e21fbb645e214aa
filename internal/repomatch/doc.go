// Package repomatch finds the (source repo, destination repo, arch) triples
// under which a submission and its destination can be compared, and checks
// that the submission's builds for those triples are final and successful.
//
// Matching is a function of its inputs only: the two projects, the
// submission's source revision and the injected policy tables. Maintenance
// resolution calls it again with a different source project.
package repomatch
