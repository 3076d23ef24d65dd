package vm

import "testing"

func TestMemoryIdsAreMonotonic(t *testing.T) {
	h := NewMemoryHandler()

	first := h.Allocate(4)
	second := h.Allocate(2)
	if second <= first {
		t.Fatalf("ids not increasing: %d then %d", first, second)
	}

	// Freed ids are never handed out again.
	if err := h.Free(second); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	third := h.Allocate(1)
	if third <= second {
		t.Errorf("id %d reused after free (previous max %d)", third, second)
	}
}

func TestMemoryFreeUnknownUnit(t *testing.T) {
	h := NewMemoryHandler()
	if err := h.Free(99); err == nil {
		t.Error("freeing an unknown unit did not fail")
	}
}

func TestMemoryUnsetCellsReadZero(t *testing.T) {
	h := NewMemoryHandler()
	id := h.Allocate(3)
	unit, ok := h.Get(id)
	if !ok {
		t.Fatal("unit not found after Allocate")
	}

	value, err := unit.Read(1)
	if err != nil {
		t.Fatalf("Read of unset cell failed: %v", err)
	}
	if value != 0 {
		t.Errorf("unset cell read %d, want 0", value)
	}
}

func TestMemoryReadWrite(t *testing.T) {
	h := NewMemoryHandler()
	id := h.Allocate(2)
	unit, _ := h.Get(id)

	if err := unit.Write(0, 0xDEADBEEF); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	value, err := unit.Read(0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if value != 0xDEADBEEF {
		t.Errorf("Read = 0x%08X", value)
	}
}

func TestMemoryOutOfRange(t *testing.T) {
	h := NewMemoryHandler()
	id := h.Allocate(2)
	unit, _ := h.Get(id)

	if _, err := unit.Read(2); err == nil {
		t.Error("Read past the end did not fail")
	}
	if _, err := unit.Read(-1); err == nil {
		t.Error("Read at negative offset did not fail")
	}
	if err := unit.Write(5, 1); err == nil {
		t.Error("Write past the end did not fail")
	}
}

func TestMemoryZeroSizeUnit(t *testing.T) {
	h := NewMemoryHandler()
	id := h.Allocate(0)
	unit, _ := h.Get(id)
	if unit.Size() != 0 {
		t.Errorf("Size = %d", unit.Size())
	}
	if _, err := unit.Read(0); err == nil {
		t.Error("Read from empty unit did not fail")
	}
}
