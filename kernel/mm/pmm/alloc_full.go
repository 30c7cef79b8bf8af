//go:build !hasmm
// +build !hasmm

package pmm

import (
	"bootmem/kernel"
	"bootmem/kernel/mem"
)

// Alloc finds a free range satisfying the given constraints, marks it as
// typ and returns both its virtual and physical addresses. size and align
// are rounded up to mem.PageSize when smaller; align == 0 means
// mem.PageSize. minAddr == 0 and maxAddr == 0 mean "no additional
// constraint beyond the platform's own bounds".
//
// By default Alloc places the allocation at the lowest legal address;
// Flags.High reverses that. If no range satisfies the request, Alloc
// invokes kernel.BootError unless Flags.CanFail is set, in which case it
// returns ok == false.
func (m *Map) Alloc(size, align, minAddr, maxAddr uint64, typ RangeType, flags Flags) (virt uintptr, phys uint64, ok bool) {
	if typ == Free {
		kernel.InternalError("pmm", "cannot allocate a range of type Free")
		return 0, 0, false
	}

	if align < uint64(mem.PageSize) {
		align = uint64(mem.PageSize)
	}
	size = mem.RoundUp(size, uint64(mem.PageSize))
	if minAddr == 0 {
		minAddr = m.platform.MinAddr()
	}
	if maxAddr == 0 || maxAddr > m.platform.MaxAddr() {
		maxAddr = m.platform.MaxAddr()
	}

	high := flags&High != 0

	var chosen uint64
	var found bool

	visit := func(n *rangeNode) bool {
		if n.rec.typ != Free {
			return false
		}
		rangeEnd := n.rec.start + n.rec.size - 1
		matchStart := max(minAddr, n.rec.start)
		matchEnd := min(maxAddr, rangeEnd)
		if matchEnd <= matchStart {
			return false
		}
		windowLen := matchEnd - matchStart + 1
		if size > windowLen {
			return false
		}

		var placement uint64
		if high {
			placement = mem.RoundDown(matchEnd-size+1, align)
			if placement < matchStart {
				return false
			}
		} else {
			placement = mem.RoundUp(matchStart, align)
			if placement+size-1 > matchEnd {
				return false
			}
		}

		chosen, found = placement, true
		return true
	}

	if high {
		for n := m.tail; n != nil; n = n.prev {
			if visit(n) {
				break
			}
		}
	} else {
		for n := m.head; n != nil; n = n.next {
			if visit(n) {
				break
			}
		}
	}

	if !found {
		if flags&CanFail != 0 {
			return 0, 0, false
		}
		kernel.BootError("pmm", "insufficient memory to satisfy a %d byte allocation", size)
		return 0, 0, false
	}

	m.Insert(chosen, size, typ)
	return m.platform.PhysToVirt(chosen), chosen, true
}

// Free returns the allocation backing the virtual range [virt, virt+size)
// to the map as Free. virt must be the exact address returned by a prior
// Alloc and size its exact, already page-aligned length; Free locates the
// single range it is entirely contained in and rejects anything else as a
// programming error, matching the loader's own memory_free.
func (m *Map) Free(virt uintptr, size uint64) {
	phys := m.platform.VirtToPhys(virt)
	if !mem.PageAligned(phys) || !mem.PageAligned(size) {
		kernel.InternalError("pmm", "unaligned free at 0x%x (%d bytes)", phys, size)
		return
	}

	for n := m.head; n != nil; n = n.next {
		if n.rec.typ == Free {
			continue
		}
		rangeEnd := n.rec.start + n.rec.size - 1
		if phys >= n.rec.start && phys+size-1 <= rangeEnd {
			m.Insert(phys, size, Free)
			return
		}
	}

	kernel.InternalError("pmm", "free of 0x%x does not lie within a single allocated range", phys)
}

// Protect retypes every Free byte inside [start, start+size), rounded out
// to whole pages, as Internal, so Alloc will never place an allocation
// there. It is how Init walls off the loader's own image.
//
// The overlapping windows are computed in a read-only pass over the list
// before any Insert call runs, since Insert can merge or free list nodes:
// mutating the list while holding a pointer into it, as the loader's own C
// implementation does via a "safe" list walk, is not something Go's memory
// model permits without risking a use of a freed node.
func (m *Map) Protect(start, size uint64) {
	end := mem.RoundUp(start+size, uint64(mem.PageSize)) - 1
	start = mem.RoundDown(start, uint64(mem.PageSize))

	type window struct{ start, end uint64 }
	var windows []window
	for n := m.head; n != nil; n = n.next {
		if n.rec.typ != Free {
			continue
		}
		rangeEnd := n.rec.start + n.rec.size - 1
		matchStart := max(start, n.rec.start)
		matchEnd := min(end, rangeEnd)
		if matchEnd <= matchStart {
			continue
		}
		windows = append(windows, window{matchStart, matchEnd})
	}

	for _, w := range windows {
		m.Insert(w.start, w.end-w.start+1, Internal)
	}
}

// Init populates the map from the platform's own probe, then protects the
// loader's own image from being handed out, and logs the resulting map.
func (m *Map) Init() {
	m.platform.Probe(m.Add)

	imgStart, imgEnd := m.platform.ImageBounds()
	physStart := m.platform.VirtToPhys(imgStart)
	physEnd := m.platform.VirtToPhys(imgEnd)
	start := mem.RoundDown(physStart, uint64(mem.PageSize))
	end := mem.RoundUp(physEnd, uint64(mem.PageSize))
	m.Protect(start, end-start)

	m.Dump()
}

// Finalize converts every remaining Internal range back to Free, merging it
// into its neighbors exactly as any other Insert would, then hands the
// entire map to the caller as a snapshot and empties the map's own list.
// Finalize is meant to be called exactly once, right before control passes
// to the kernel.
func (m *Map) Finalize() []MemoryRange {
	type window struct{ start, size uint64 }
	var internal []window
	for n := m.head; n != nil; n = n.next {
		if n.rec.typ == Internal {
			internal = append(internal, window{n.rec.start, n.rec.size})
		}
	}
	for _, w := range internal {
		m.Insert(w.start, w.size, Free)
	}

	out := m.Ranges()
	m.clear()
	return out
}
