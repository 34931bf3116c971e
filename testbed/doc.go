// Package testbed holds end-to-end tests that drive the demo Counter
// module through file reloads, snapshots and a shared worker.
package testbed
