package kernel

import (
	"bytes"
	"testing"

	"bootmem/kernel/cpu"
	"bootmem/kernel/kfmt"
)

func TestPanic(t *testing.T) {
	defer func() { haltFn = cpu.Halt }()

	var haltCalled bool
	haltFn = func() { haltCalled = true }

	t.Run("with error", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		Panic(&Error{Module: "test", Message: "panic test"})

		exp := "[test] unrecoverable error: panic test\n*** boot halted ***\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected %q; got %q", exp, got)
		}
		if !haltCalled {
			t.Fatal("expected cpu.Halt (via haltFn) to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)

		Panic(nil)

		exp := "unrecoverable error\n*** boot halted ***\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected %q; got %q", exp, got)
		}
		if !haltCalled {
			t.Fatal("expected cpu.Halt (via haltFn) to be called by Panic")
		}
	})
}
