package kernel

import (
	"bootmem/kernel/cpu"
	"bootmem/kernel/kfmt"
)

// haltFn is mocked by tests; the indirection keeps Panic itself free of any
// hardware dependency.
var haltFn = cpu.Halt

// Panic reports err (if not nil) on the debug sink and halts the CPU. Panic
// never returns.
func Panic(err *Error) {
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	} else {
		kfmt.Printf("unrecoverable error\n")
	}
	kfmt.Printf("*** boot halted ***\n")

	haltFn()
}
