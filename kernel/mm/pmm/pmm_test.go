package pmm

import (
	"testing"

	"bootmem/kernel"
	"bootmem/kernel/mem"
	"bootmem/kernel/mm/heap"
)

// withFatalCapture overrides kernel.InternalError/BootError so a fatal
// condition records itself instead of halting the test process.
func withFatalCapture(t *testing.T) *bool {
	t.Helper()
	called := false
	origInternal := kernel.InternalError
	origBoot := kernel.BootError
	kernel.InternalError = func(module, format string, args ...interface{}) { called = true }
	kernel.BootError = func(module, format string, args ...interface{}) { called = true }
	t.Cleanup(func() {
		kernel.InternalError = origInternal
		kernel.BootError = origBoot
	})
	return &called
}

const pageSize = uint64(mem.PageSize)

// fakePlatform is a minimal Platform for tests: identity-mapped, with a
// fixed address window and no probed ranges unless the test adds some.
type fakePlatform struct {
	ranges          []MemoryRange
	minAddr, maxAddr uint64
	imgStart, imgEnd uintptr
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		minAddr: 0,
		maxAddr: 64 * 1024 * 1024,
	}
}

func (p *fakePlatform) Probe(add func(start, size uint64, typ RangeType)) {
	for _, r := range p.ranges {
		add(r.Start, r.Size, r.Type)
	}
}

func (p *fakePlatform) MinAddr() uint64 { return p.minAddr }
func (p *fakePlatform) MaxAddr() uint64 { return p.maxAddr }

func (p *fakePlatform) VirtToPhys(v uintptr) uint64    { return uint64(v) }
func (p *fakePlatform) PhysToVirt(ph uint64) uintptr   { return uintptr(ph) }

func (p *fakePlatform) ImageBounds() (uintptr, uintptr) { return p.imgStart, p.imgEnd }

func newTestMap() (*Map, *fakePlatform) {
	plat := newFakePlatform()
	return NewMap(heap.New(), plat), plat
}

func rangesEqual(t *testing.T, got []MemoryRange, want []MemoryRange) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestInsertIntoEmptyMap(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 4*pageSize, Free)

	rangesEqual(t, m.Ranges(), []MemoryRange{{0, 4 * pageSize, Free}})
}

func TestInsertMergesAdjacentSameType(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, pageSize, Free)
	m.Insert(pageSize, pageSize, Free)

	rangesEqual(t, m.Ranges(), []MemoryRange{{0, 2 * pageSize, Free}})
}

func TestInsertDoesNotMergeDifferentTypes(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, pageSize, Free)
	m.Insert(pageSize, pageSize, Allocated)

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, pageSize, Free},
		{pageSize, pageSize, Allocated},
	})
}

func TestInsertSplitsFullyContainingRange(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 10*pageSize, Free)
	m.Insert(4*pageSize, 2*pageSize, Allocated)

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, 4 * pageSize, Free},
		{4 * pageSize, 2 * pageSize, Allocated},
		{6 * pageSize, 4 * pageSize, Free},
	})
}

func TestInsertTrimsOverlappingPredecessorAndSuccessor(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 4*pageSize, Allocated)
	m.Insert(6*pageSize, 4*pageSize, Stack)
	// overlaps the tail of the first range and the head of the second.
	m.Insert(2*pageSize, 6*pageSize, Free)

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, 2 * pageSize, Allocated},
		{2 * pageSize, 6 * pageSize, Free},
		{8 * pageSize, 2 * pageSize, Stack},
	})
}

func TestInsertEqualStartNewRangeWins(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 4*pageSize, Allocated)
	m.Insert(0, 2*pageSize, Free)

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, 2 * pageSize, Free},
		{2 * pageSize, 2 * pageSize, Allocated},
	})
}

func TestInsertRejectsUnalignedRange(t *testing.T) {
	called := withFatalCapture(t)
	m, _ := newTestMap()
	m.Insert(1, pageSize, Free)
	if !*called {
		t.Fatal("expected unaligned start to be fatal")
	}
}

func TestInsertRejectsZeroSize(t *testing.T) {
	called := withFatalCapture(t)
	m, _ := newTestMap()
	m.Insert(0, 0, Free)
	if !*called {
		t.Fatal("expected zero-sized range to be fatal")
	}
}

func TestAllocLowPlacesAtLowestFit(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 10*pageSize, Free)

	virt, phys, ok := m.Alloc(2*pageSize, 0, 0, 0, Allocated, 0)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if phys != 0 {
		t.Fatalf("expected low placement at 0x0; got 0x%x", phys)
	}
	if uint64(virt) != phys {
		t.Fatalf("expected identity-mapped virt == phys; got virt=0x%x phys=0x%x", virt, phys)
	}

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, 2 * pageSize, Allocated},
		{2 * pageSize, 8 * pageSize, Free},
	})
}

func TestAllocHighPlacesAtHighestFit(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 10*pageSize, Free)

	_, phys, ok := m.Alloc(2*pageSize, 0, 0, 0, Allocated, High)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if want := 8 * pageSize; phys != want {
		t.Fatalf("expected high placement at 0x%x; got 0x%x", want, phys)
	}
}

func TestAllocRespectsMinMaxConstraint(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 20*pageSize, Free)

	_, phys, ok := m.Alloc(pageSize, 0, 10*pageSize, 15*pageSize, Allocated, 0)
	if !ok {
		t.Fatal("expected constrained allocation to succeed")
	}
	if phys < 10*pageSize || phys+pageSize-1 > 15*pageSize {
		t.Fatalf("allocation at 0x%x escaped [10,15] page window", phys)
	}
}

func TestAllocNeverUsesInternalRange(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 4*pageSize, Internal)

	_, _, ok := m.Alloc(pageSize, 0, 0, 0, Allocated, CanFail)
	if ok {
		t.Fatal("expected allocation to fail: only free space is internal, not available")
	}
}

func TestAllocCanFailReturnsFalseInsteadOfFatal(t *testing.T) {
	called := withFatalCapture(t)
	m, _ := newTestMap()
	m.Insert(0, pageSize, Free)

	_, _, ok := m.Alloc(4*pageSize, 0, 0, 0, Allocated, CanFail)
	if ok {
		t.Fatal("expected oversized allocation to fail")
	}
	if *called {
		t.Fatal("CanFail must suppress the fatal path")
	}
}

func TestAllocWithoutCanFailIsFatalOnExhaustion(t *testing.T) {
	called := withFatalCapture(t)
	m, _ := newTestMap()
	m.Insert(0, pageSize, Free)

	m.Alloc(4*pageSize, 0, 0, 0, Allocated, 0)
	if !*called {
		t.Fatal("expected exhaustion without CanFail to be fatal")
	}
}

func TestFreeReturnsRangeToFreeAndMerges(t *testing.T) {
	m, plat := newTestMap()
	m.Insert(0, 10*pageSize, Free)
	virt, _, _ := m.Alloc(2*pageSize, 0, 0, 0, Allocated, 0)

	m.Free(virt, 2*pageSize)
	_ = plat
	rangesEqual(t, m.Ranges(), []MemoryRange{{0, 10 * pageSize, Free}})
}

func TestFreeOfUnknownAddressIsFatal(t *testing.T) {
	called := withFatalCapture(t)
	m, _ := newTestMap()
	m.Insert(0, 4*pageSize, Free)

	m.Free(uintptr(2*pageSize), pageSize)
	if !*called {
		t.Fatal("expected free of a Free range (never allocated) to be fatal")
	}
}

func TestProtectRetypesOnlyFreeOverlap(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 10*pageSize, Free)
	m.Insert(4*pageSize, 2*pageSize, Stack)

	m.Protect(2*pageSize, 4*pageSize)

	rangesEqual(t, m.Ranges(), []MemoryRange{
		{0, 2 * pageSize, Free},
		{2 * pageSize, 2 * pageSize, Internal},
		{4 * pageSize, 2 * pageSize, Stack},
		{6 * pageSize, 4 * pageSize, Free},
	})
}

func TestFinalizeReturnsInternalToFreeAndEmptiesMap(t *testing.T) {
	m, _ := newTestMap()
	m.Insert(0, 10*pageSize, Free)
	m.Protect(0, 4*pageSize)

	out := m.Finalize()

	if len(out) != 1 || out[0] != (MemoryRange{0, 10 * pageSize, Free}) {
		t.Fatalf("expected finalize to merge Internal back into Free; got %+v", out)
	}
	if len(m.Ranges()) != 0 {
		t.Fatal("expected the map's own list to be empty after Finalize")
	}
}

func TestInitProbesAndProtectsImage(t *testing.T) {
	m, plat := newTestMap()
	plat.ranges = []MemoryRange{{0, 16 * pageSize, Free}}
	plat.imgStart, plat.imgEnd = uintptr(4*pageSize), uintptr(6*pageSize)

	m.Init()

	found := false
	for _, r := range m.Ranges() {
		if r.Type == Internal && r.Start <= 4*pageSize && r.End() >= 6*pageSize-1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the image range to be protected as Internal; got %+v", m.Ranges())
	}
}
