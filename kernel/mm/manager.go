// Package mm ties together the loader's two memory-management primitives:
// the heap (kernel/mm/heap), used for the loader's own short-lived
// bookkeeping, and the physical memory map (kernel/mm/pmm), which is what
// actually gets handed off to the kernel.
package mm

import (
	"bootmem/kernel/mm/heap"
	"bootmem/kernel/mm/pmm"
)

// Manager is the single value a loader's entry point needs to carry its
// memory state between boot stages: one heap backing every pmm.Map record,
// and the map itself.
type Manager struct {
	Heap *heap.Heap
	Map  *pmm.Map
}

// NewManager returns a Manager with a fresh, private heap. plat is the
// platform the map uses to probe memory and translate addresses.
func NewManager(plat pmm.Platform) *Manager {
	h := heap.New()
	return &Manager{
		Heap: h,
		Map:  pmm.NewMap(h, plat),
	}
}

// Init probes the platform for its memory layout and protects the loader's
// own image, leaving the manager ready to serve allocations.
func (m *Manager) Init() {
	m.Map.Init()
}

// Finalize hands the completed memory map off to the kernel and leaves the
// manager's map empty. It is the last operation a loader performs before
// transferring control.
func (m *Manager) Finalize() []pmm.MemoryRange {
	return m.Map.Finalize()
}
