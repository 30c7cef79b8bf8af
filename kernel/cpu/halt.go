// Package cpu provides the handful of processor primitives the memory
// manager needs. On real hardware targets these are implemented in
// assembly; this module only needs Halt, which callers invoke indirectly
// through a mockable function variable so tests never actually stop the
// process.
package cpu

// Halt stops instruction execution. It never returns. Real BIOS/EFI targets
// implement this with a halt-and-loop instruction sequence; callers in this
// module only reach it after kernel.Panic has already reported a fatal
// error, so a plain infinite loop is a faithful stand-in here.
func Halt() {
	for {
	}
}
