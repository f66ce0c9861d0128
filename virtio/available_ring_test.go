package virtio

import "testing"

func newTestAvailableRing(n int) *AvailableRing {
	return newAvailableRing(n, make([]byte, availableRingSize(n)))
}

func TestAvailableRing_SetsNoInterruptFlagOnCreation(t *testing.T) {
	r := newTestAvailableRing(4)
	if *r.flags&availableRingFlagNoInterrupt == 0 {
		t.Fatal("newAvailableRing did not set the no-interrupt flag")
	}
}

func TestAvailableRing_OfferSingleAdvancesIndexAndWrapsRing(t *testing.T) {
	r := newTestAvailableRing(2)

	r.offerSingle(5)
	r.offerSingle(7)
	r.offerSingle(9) // wraps back to ring slot 0

	if *r.ringIndex != 3 {
		t.Fatalf("ringIndex = %d, want 3", *r.ringIndex)
	}
	if r.ring[0] != 9 {
		t.Fatalf("ring[0] = %d, want 9 (overwritten by the third offer)", r.ring[0])
	}
	if r.ring[1] != 7 {
		t.Fatalf("ring[1] = %d, want 7", r.ring[1])
	}
}

func TestAvailableRing_PanicsOnWrongSizedBacking(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a wrong-sized backing slice")
		}
	}()
	newAvailableRing(4, make([]byte, 1))
}
