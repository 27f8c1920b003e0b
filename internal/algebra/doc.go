// Package algebra compares query trees: what one query asks for that
// another does not (Subtract), what two queries share (Intersect) and
// whether one root call covers the records of another (ContainsRootCall).
//
// Results share every subtree the operation left untouched. Subtract
// returns its minuend itself when nothing was covered, so callers detect
// the no-op case with a pointer comparison.
package algebra
