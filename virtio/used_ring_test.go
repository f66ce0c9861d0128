package virtio

import "testing"

func newTestUsedRing(n int) *UsedRing {
	return newUsedRing(n, make([]byte, usedRingSize(n)))
}

func TestUsedRing_TakeOneReturnsFalseWhenEmpty(t *testing.T) {
	r := newTestUsedRing(4)
	if _, ok := r.takeOne(); ok {
		t.Fatal("takeOne on an empty ring returned ok=true")
	}
}

func TestUsedRing_TakeOneDrainsInOrder(t *testing.T) {
	r := newTestUsedRing(4)

	r.ring[0] = UsedElement{DescriptorIndex: 1, Length: 10}
	r.ring[1] = UsedElement{DescriptorIndex: 2, Length: 20}
	*r.ringIndex = 2

	first, ok := r.takeOne()
	if !ok || first.Head() != 1 || first.Length != 10 {
		t.Fatalf("first takeOne = %+v, ok=%v", first, ok)
	}

	second, ok := r.takeOne()
	if !ok || second.Head() != 2 || second.Length != 20 {
		t.Fatalf("second takeOne = %+v, ok=%v", second, ok)
	}

	if _, ok := r.takeOne(); ok {
		t.Fatal("takeOne after draining both entries returned ok=true")
	}
}

func TestUsedRing_AvailableToTakeWrapsAt16Bit(t *testing.T) {
	r := newTestUsedRing(4)
	r.lastIndex = 0xfffe
	*r.ringIndex = 2 // wrapped around past 0xffff

	if got, want := r.availableToTake(), 4; got != want {
		t.Fatalf("availableToTake() = %d, want %d", got, want)
	}
}
