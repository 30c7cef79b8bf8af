//go:build hasmm
// +build hasmm

package pmm

// On a target that carries its own in-kernel memory manager (TARGET_HAS_MM
// in the loader this is grounded on), the loader only needs to record and
// hand off the map -- Insert, Add and Dump above already cover that. There
// is no Alloc/Free/Protect/Init/Finalize here: a kernel with its own
// allocator builds the final map from the handoff data itself, the same way
// the loader's C ancestor compiles memory_alloc/memory_free out entirely
// under TARGET_HAS_MM.
