package kernel

import "bootmem/kernel/kfmt"

// InternalError reports a programmer-error class failure (unaligned
// address, double free, zero-sized request, bad memory type, ...) and
// halts. It is a package-level variable, mirroring the pattern
// gopher-os uses for its cpuHaltFn, so tests can intercept fatal failures
// instead of actually halting the mocked CPU.
var InternalError = func(module, format string, args ...interface{}) {
	Panic(&Error{Module: module, Message: kfmt.Sprintf(format, args...)})
}

// BootError reports a resource-exhaustion class failure (e.g. no physical
// range satisfies an allocation request) and halts, unless the caller opted
// into failure by passing the CAN_FAIL flag -- callers that set CAN_FAIL
// must not call BootError at all and instead return a failure sentinel.
var BootError = func(module, format string, args ...interface{}) {
	Panic(&Error{Module: module, Message: kfmt.Sprintf(format, args...)})
}
