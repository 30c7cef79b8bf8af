package pmm

import (
	"unsafe"

	"bootmem/kernel"
	"bootmem/kernel/kfmt"
	"bootmem/kernel/mem"
	"bootmem/kernel/mm/heap"
)

// record is the plain-value payload of one list node. It is carved out of a
// Heap via Alloc rather than allocated by the Go runtime: it holds no
// pointers, so storing it in the heap's byte array raises no GC soundness
// concern, and it lets the map's bookkeeping exercise the same allocator the
// rest of the loader uses (see kernel/mm/heap).
type record struct {
	start uint64
	size  uint64
	typ   RangeType
}

// rangeNode is the list's traversal link. It lives as an ordinary
// Go-runtime-allocated value; only the record it points to is heap-backed.
type rangeNode struct {
	rec        *record
	prev, next *rangeNode
}

// Map is an ordered, non-overlapping list of typed physical memory ranges.
// The zero value is not usable; construct one with NewMap.
type Map struct {
	heap     *heap.Heap
	platform Platform
	head     *rangeNode
	tail     *rangeNode
}

// NewMap returns an empty Map that carves its range records out of h and
// consults p for probing and address translation.
func NewMap(h *heap.Heap, p Platform) *Map {
	return &Map{heap: h, platform: p}
}

func (m *Map) newNode(start, size uint64, typ RangeType) *rangeNode {
	p := m.heap.Alloc(uint32(unsafe.Sizeof(record{})))
	rec := (*record)(p)
	rec.start, rec.size, rec.typ = start, size, typ
	return &rangeNode{rec: rec}
}

// insertBefore splices n into the list immediately before at. at == nil
// appends n at the tail.
func (m *Map) insertBefore(at, n *rangeNode) {
	if at == nil {
		n.prev = m.tail
		n.next = nil
		if m.tail != nil {
			m.tail.next = n
		} else {
			m.head = n
		}
		m.tail = n
		return
	}

	n.prev = at.prev
	n.next = at
	if at.prev != nil {
		at.prev.next = n
	} else {
		m.head = n
	}
	at.prev = n
}

func (m *Map) unlink(n *rangeNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		m.tail = n.prev
	}
}

func (m *Map) removeAndFree(n *rangeNode) {
	m.unlink(n)
	m.heap.Free(unsafe.Pointer(n.rec))
}

// Insert places [start, start+size) into the map with the given type,
// trimming, splitting and deleting whatever existing ranges it overlaps,
// then merging the result with any immediately adjacent range of the same
// type. It is the single primitive every other mutation (Add, Alloc, Free,
// Protect, Finalize) is built from.
//
// Ties are broken in the new range's favor: inserting a range whose start
// coincides with an existing range's start places the new range first, so
// the existing range is always treated as a successor to trim, never a
// predecessor.
func (m *Map) Insert(start, size uint64, typ RangeType) {
	if size == 0 {
		kernel.InternalError("pmm", "zero-sized range at 0x%x", start)
		return
	}
	if !mem.PageAligned(start) || !mem.PageAligned(size) {
		kernel.InternalError("pmm", "unaligned range [0x%x, +0x%x)", start, size)
		return
	}

	newEnd := start + size - 1

	cur := m.head
	for cur != nil && cur.rec.start < start {
		cur = cur.next
	}
	n := m.newNode(start, size, typ)
	m.insertBefore(cur, n)

	// Left trim: shrink a predecessor that overlaps the new range's
	// start, splitting off a tail fragment if the predecessor also
	// extends past the new range's end.
	if pred := n.prev; pred != nil {
		predEnd := pred.rec.start + pred.rec.size - 1
		if predEnd >= start {
			if predEnd > newEnd {
				split := m.newNode(newEnd+1, predEnd-newEnd, pred.rec.typ)
				m.insertBefore(n.next, split)
			}
			pred.rec.size = start - pred.rec.start
		}
	}

	// Right sweep: delete every successor fully covered by the new
	// range, then truncate the one that only partially overlaps.
	for {
		succ := n.next
		if succ == nil || succ.rec.start > newEnd {
			break
		}
		succEnd := succ.rec.start + succ.rec.size - 1
		if succEnd <= newEnd {
			m.removeAndFree(succ)
			continue
		}
		succ.rec.start = newEnd + 1
		succ.rec.size = succEnd - newEnd
		break
	}

	// Merge with same-type neighbors left then right.
	if pred := n.prev; pred != nil && pred.rec.typ == typ && pred.rec.start+pred.rec.size == n.rec.start {
		n.rec.start = pred.rec.start
		n.rec.size += pred.rec.size
		m.removeAndFree(pred)
	}
	if succ := n.next; succ != nil && succ.rec.typ == typ && n.rec.start+n.rec.size == succ.rec.start {
		n.rec.size += succ.rec.size
		m.removeAndFree(succ)
	}
}

// Add is Insert under the name the probing path calls it by; the two are
// identical. It exists so Platform.Probe can be driven with a plain
// method value.
func (m *Map) Add(start, size uint64, typ RangeType) {
	m.Insert(start, size, typ)
}

// Ranges returns a snapshot of the current map contents, ordered by start
// address.
func (m *Map) Ranges() []MemoryRange {
	var out []MemoryRange
	for n := m.head; n != nil; n = n.next {
		out = append(out, MemoryRange{Start: n.rec.start, Size: n.rec.size, Type: n.rec.typ})
	}
	return out
}

// Dump writes the current map to the loader's log sink, one line per
// range.
func (m *Map) Dump() {
	kfmt.Printf("memory: map:\n")
	for n := m.head; n != nil; n = n.next {
		kfmt.Printf("  0x%016x-0x%016x (%d KiB) %s\n", n.rec.start, n.rec.start+n.rec.size, n.rec.size/1024, n.rec.typ.String())
	}
}

func (m *Map) clear() {
	for n := m.head; n != nil; {
		next := n.next
		m.heap.Free(unsafe.Pointer(n.rec))
		n = next
	}
	m.head, m.tail = nil, nil
}
