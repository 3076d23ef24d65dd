package vm

import "fmt"

// MemoryUnit is one independently allocated arena of optional 32-bit cells.
// A cell is unset until the first write; reads of unset cells yield zero.
type MemoryUnit struct {
	id     uint32
	values []uint32
	set    []bool
}

// ID returns the unit's globally unique identifier.
func (u *MemoryUnit) ID() uint32 { return u.id }

// Size returns the number of cells in the unit.
func (u *MemoryUnit) Size() int { return len(u.values) }

// Read returns the cell at offset. Unset cells read as zero.
func (u *MemoryUnit) Read(offset int) (uint32, error) {
	if offset < 0 || offset >= len(u.values) {
		return 0, fmt.Errorf("offset %d out of range for memory unit %d (size %d)", offset, u.id, len(u.values))
	}
	if !u.set[offset] {
		return 0, nil
	}
	return u.values[offset], nil
}

// Write stores value into the cell at offset, marking it set.
func (u *MemoryUnit) Write(offset int, value uint32) error {
	if offset < 0 || offset >= len(u.values) {
		return fmt.Errorf("offset %d out of range for memory unit %d (size %d)", offset, u.id, len(u.values))
	}
	u.values[offset] = value
	u.set[offset] = true
	return nil
}

// MemoryHandler owns every memory unit of one VM. Unit ids come from a
// monotonic counter and are never reused, even after Free.
type MemoryHandler struct {
	units  map[uint32]*MemoryUnit
	nextID uint32
}

// NewMemoryHandler creates an empty handler.
func NewMemoryHandler() *MemoryHandler {
	return &MemoryHandler{units: make(map[uint32]*MemoryUnit)}
}

// Allocate creates a fresh unit of size unset cells and returns its id.
func (h *MemoryHandler) Allocate(size int) uint32 {
	id := h.nextID
	h.nextID++
	h.units[id] = &MemoryUnit{
		id:     id,
		values: make([]uint32, size),
		set:    make([]bool, size),
	}
	return id
}

// Get looks up a unit by id.
func (h *MemoryHandler) Get(id uint32) (*MemoryUnit, bool) {
	u, ok := h.units[id]
	return u, ok
}

// Free removes the unit with the given id. Freeing an unknown id is an
// error; the id is never handed out again.
func (h *MemoryHandler) Free(id uint32) error {
	if _, ok := h.units[id]; !ok {
		return fmt.Errorf("memory unit %d does not exist", id)
	}
	delete(h.units, id)
	return nil
}

// Count returns the number of live units.
func (h *MemoryHandler) Count() int { return len(h.units) }
