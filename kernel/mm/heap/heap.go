// Package heap implements the loader's fixed-size intra-loader allocator.
// It backs short-lived structures the rest of this module needs while it is
// still assembling the physical memory map, including the map's own range
// records (see kernel/mm/pmm).
//
// The backing store is a statically reserved byte region -- there is no
// growth, and there is no dependency on the Go runtime's own allocator,
// mirroring the constraint gopher-os documents for code that runs before
// the runtime is initialized.
package heap

import (
	"unsafe"

	"bootmem/kernel"
)

// Size is the total size of the heap's backing region, in bytes. 128KiB,
// matching the loader this module's behavior is grounded on.
const Size = 128 * 1024

// sentinel marks the absence of a next/prev link.
const sentinel = ^uint32(0)

// chunkHeader prefixes every chunk (free or allocated) in the heap. It
// tiles the backing array contiguously: chunk.next always equals the
// chunk's own offset plus chunk.size, with no gaps; the last chunk's next
// is sentinel.
type chunkHeader struct {
	size      uint32
	allocated bool
	_         [3]byte // padding, keeps next/prev 4-byte aligned
	next      uint32
	prev      uint32
}

// headerSize is the number of bytes a chunkHeader occupies at the front of
// every chunk. User payloads begin immediately after it.
const headerSize = uint32(unsafe.Sizeof(chunkHeader{}))

// Heap is a fixed-capacity first-fit allocator over a statically sized byte
// array. The zero value is a valid, empty Heap; the backing region is
// carved into a single free chunk lazily, on the first call to Alloc.
type Heap struct {
	buf         [Size]byte
	initialized bool
}

// New returns a new, empty Heap.
func New() *Heap {
	return &Heap{}
}

var defaultHeap Heap

// Default returns the module-wide heap instance. Callers that do not need
// an isolated heap (tests do) should use this rather than constructing
// their own, since the backing array is meant to be a process-wide
// singleton.
func Default() *Heap {
	return &defaultHeap
}

func (h *Heap) header(offset uint32) *chunkHeader {
	return (*chunkHeader)(unsafe.Pointer(&h.buf[offset]))
}

func (h *Heap) payload(offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&h.buf[offset+headerSize])
}

// offsetOf computes the chunk offset for a payload pointer previously
// returned by Alloc/Realloc. This is the only place that is allowed to
// reach behind a payload pointer to find its header.
func (h *Heap) offsetOf(p unsafe.Pointer) uint32 {
	base := uintptr(unsafe.Pointer(&h.buf[0]))
	return uint32(uintptr(p)-base) - headerSize
}

func (h *Heap) ensureInit() {
	if h.initialized {
		return
	}

	hdr := h.header(0)
	hdr.size = uint32(Size)
	hdr.allocated = false
	hdr.next = sentinel
	hdr.prev = sentinel
	h.initialized = true
}

func roundUp8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// Alloc reserves n bytes from the heap and returns a pointer to the first
// byte of the allocation. n == 0 is a programming error.
//
// Alloc scans the chunk list first-fit, starting from the head of the
// heap. If the matched free chunk has room for another chunk header after
// satisfying the request, the remainder is split off as a new free chunk;
// otherwise the whole chunk is handed over, accepting the resulting
// internal fragmentation.
func (h *Heap) Alloc(n uint32) unsafe.Pointer {
	if n == 0 {
		kernel.InternalError("heap", "zero-sized allocation")
		return nil
	}

	h.ensureInit()

	size := roundUp8(n)
	total := size + headerSize

	var found uint32 = sentinel
	for cur := uint32(0); ; {
		hdr := h.header(cur)
		if !hdr.allocated && hdr.size >= total {
			found = cur
			break
		}
		if hdr.next == sentinel {
			break
		}
		cur = hdr.next
	}

	if found == sentinel {
		kernel.InternalError("heap", "exhausted heap space (want %d bytes)", n)
		return nil
	}

	hdr := h.header(found)
	if hdr.size >= total+headerSize {
		newOffset := found + total
		newHdr := h.header(newOffset)
		newHdr.size = hdr.size - total
		newHdr.allocated = false
		newHdr.next = hdr.next
		newHdr.prev = found

		if hdr.next != sentinel {
			h.header(hdr.next).prev = newOffset
		}

		hdr.next = newOffset
		hdr.size = total
	}

	hdr.allocated = true
	return h.payload(found)
}

// Free releases an allocation made by Alloc or Realloc. Freeing nil is a
// no-op; freeing an already-free chunk is a double-free and is a
// programming error.
//
// Free eagerly coalesces the freed chunk with an immediately-following
// free neighbor, then with an immediately-preceding free neighbor, so two
// adjacent free chunks never exist.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	offset := h.offsetOf(p)
	hdr := h.header(offset)
	if !hdr.allocated {
		kernel.InternalError("heap", "double free at offset %d", offset)
		return
	}
	hdr.allocated = false

	if hdr.next != sentinel {
		nextHdr := h.header(hdr.next)
		if !nextHdr.allocated {
			if offset+hdr.size != hdr.next {
				kernel.InternalError("heap", "heap corruption: chunk at %d not adjacent to next chunk", offset)
				return
			}
			hdr.size += nextHdr.size
			hdr.next = nextHdr.next
			if nextHdr.next != sentinel {
				h.header(nextHdr.next).prev = offset
			}
		}
	}

	if hdr.prev != sentinel {
		prevOffset := hdr.prev
		prevHdr := h.header(prevOffset)
		if !prevHdr.allocated {
			if prevOffset+prevHdr.size != offset {
				kernel.InternalError("heap", "heap corruption: chunk at %d not adjacent to previous chunk", offset)
				return
			}
			prevHdr.size += hdr.size
			prevHdr.next = hdr.next
			if hdr.next != sentinel {
				h.header(hdr.next).prev = prevOffset
			}
		}
	}
}

// Realloc resizes the allocation at p to n bytes, copying the overlapping
// prefix and freeing the original. n == 0 behaves like Free(p) and returns
// nil; p == nil behaves like Alloc(n). If the rounded size of n already
// matches the chunk's current payload capacity, Realloc returns p
// unchanged without copying.
func (h *Heap) Realloc(p unsafe.Pointer, n uint32) unsafe.Pointer {
	if n == 0 {
		h.Free(p)
		return nil
	}
	if p == nil {
		return h.Alloc(n)
	}

	size := roundUp8(n)
	offset := h.offsetOf(p)
	hdr := h.header(offset)
	if hdr.size-headerSize == size {
		return p
	}

	newPtr := h.Alloc(n)
	if newPtr == nil {
		return nil
	}

	oldPayload := hdr.size - headerSize
	copySize := oldPayload
	if size < copySize {
		copySize = size
	}

	if copySize > 0 {
		src := unsafe.Slice((*byte)(p), copySize)
		dst := unsafe.Slice((*byte)(newPtr), copySize)
		copy(dst, src)
	}

	h.Free(p)
	return newPtr
}
