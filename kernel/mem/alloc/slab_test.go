package alloc

import "testing"

func TestSizeToIndex(t *testing.T) {
	specs := []struct {
		size     uint64
		expIndex int
	}{
		{1, 0},
		{16, 0},
		{17, 1},
		{64, 2},
		{2048, len(slabSizes) - 1},
		{2049, -1},
		{4096, -1},
	}

	for _, spec := range specs {
		if got := sizeToIndex(spec.size); got != spec.expIndex {
			t.Errorf("size %d: expected index %d; got %d", spec.size, spec.expIndex, got)
		}
	}
}

func TestSlabCachePartialListBookkeeping(t *testing.T) {
	var c slabCache
	c.objSize = 64

	a := &slabPage{base: 0x1000, objSize: 64, objsPerPage: 2, freeCount: 2}
	b := &slabPage{base: 0x2000, objSize: 64, objsPerPage: 2, freeCount: 2}

	c.addPartial(a)
	c.addPartial(b)

	if c.partial != b || b.next != a || a.prev != b {
		t.Fatalf("expected partial list head to be b, followed by a")
	}
	if !a.inPartial || !b.inPartial {
		t.Fatalf("expected both pages to be marked in-partial")
	}

	c.removePartial(b)
	if c.partial != a || b.inPartial {
		t.Fatalf("expected a to become the new head and b to be unlinked")
	}

	c.removePartial(a)
	if c.partial != nil || a.inPartial {
		t.Fatalf("expected partial list to be empty after removing the last entry")
	}
}

func TestMagazineRoundTrip(t *testing.T) {
	var c slabCache
	c.objSize = 32

	mag := &c.mag[cpuID()]
	for i := 0; i < magazineSize; i++ {
		mag.objs[mag.count] = uintptr(0x3000 + i*32)
		mag.count++
	}

	if mag.count != magazineSize {
		t.Fatalf("expected magazine to hold %d objects; got %d", magazineSize, mag.count)
	}

	last := mag.objs[mag.count-1]
	mag.count--
	if last != uintptr(0x3000+(magazineSize-1)*32) {
		t.Fatalf("unexpected object popped from magazine")
	}
}
