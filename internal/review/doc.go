// Package review runs ABI checks of submissions and folds their outcomes
// into a review decision.
//
// A [Checker] takes one submission through repository matching, maintenance
// resolution, extraction of both sides, library pairing and the external
// ABI tools. Every matched repository yields a [RepoResult]; failures are
// values in those results, not control flow. The results are combined by a
// [Tally], whose verdict does not depend on the order repositories or
// libraries were processed in.
//
// A [Processor] applies the checker to every action of a request, persists
// the reports through a [Store] and changes the review state. Requests end
// in state done once accepted or declined; anything left open stays seen and
// is checked again on the next pass.
package review
