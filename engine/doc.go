// Package engine runs module generations on wazero.
//
// A logical module is split in two kinds of wazero instances:
//
//	hotswap.statics/<module>/<n>  - arena parts owning globals and memory
//	<module>@<generation>         - code generations importing them
//
// Before instantiation every image is relinked: its defined globals and
// memory are replaced by imports from the arena, so the code instance
// holds no state of its own. A reload instantiates the new generation
// next to the old one, and the old one is closed only after the caller
// commits.
//
// # Generation Flow
//
//  1. Engine.Instantiate checks imports and prepares the arena. New
//     globals go into a fresh arena part.
//  2. The relinked module is compiled and instantiated. Reload generations
//     have their start function removed and their data made passive.
//  3. The returned Pending is committed or aborted. Commit adopts the
//     part, writes unseeded data ranges and data bytes the new module
//     changed, then closes the old generation.
//
// # Canonical ABI
//
//	Kind            Core Representation    Flat Count
//	─────────────────────────────────────────────────
//	bool            i32                    1
//	int32           i32                    1
//	int64           i64                    1
//	float32         f32                    1
//	float64         f64                    1
//	object          i32 (guest address)    1
//	string param    (ptr, len) as i32×2    2
//	string result   retptr as i32          1
//
// String arguments are allocated through the guest's cabi_realloc (or
// alloc). After a call, an exported cabi_post_<name> receives the results.
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use.
package engine
