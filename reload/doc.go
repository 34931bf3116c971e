// Package reload computes the difference between two images and patches a
// dispatch table to match.
//
// A Table maps function names to slots. Slots are never reused: a removed
// function leaves a tombstone, and a function added back later gets a new
// slot, so a binding taken before the removal stays stale.
package reload
