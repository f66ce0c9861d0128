package virtio

import (
	"fmt"
	"unsafe"
)

// usedRingFlag is a flag that describes a UsedRing.
type usedRingFlag uint16

const (
	usedRingFlagNoNotify usedRingFlag = 1 << iota
)

// usedRingSize is the number of bytes needed to store a UsedRing with the
// given queue size in memory.
func usedRingSize(queueSize int) int {
	return 6 + usedElementSize*queueSize
}

// usedRingAlignment is the used ring's alignment on the legacy transport:
// the device expects the used ring at the first 4096-byte boundary after
// the available ring.
const usedRingAlignment = 4096

// UsedRing is where the device returns descriptor chains once done with
// them. Written only by the device, read only by the driver.
type UsedRing struct {
	flags          *usedRingFlag
	ringIndex      *uint16
	ring           []UsedElement
	availableEvent *uint16

	// lastIndex is how far this driver has already consumed the ring.
	lastIndex uint16
}

// newUsedRing wraps mem, which must be exactly usedRingSize(queueSize) bytes,
// as a UsedRing.
func newUsedRing(queueSize int, mem []byte) *UsedRing {
	ringSize := usedRingSize(queueSize)
	if len(mem) != ringSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size for used ring: %v", len(mem), ringSize))
	}

	r := &UsedRing{
		flags:          (*usedRingFlag)(unsafe.Pointer(&mem[0])),
		ringIndex:      (*uint16)(unsafe.Pointer(&mem[2])),
		ring:           unsafe.Slice((*UsedElement)(unsafe.Pointer(&mem[4])), queueSize),
		availableEvent: (*uint16)(unsafe.Pointer(&mem[ringSize-2])),
	}
	r.lastIndex = *r.ringIndex
	return r
}

func (r *UsedRing) availableToTake() int {
	count := int(*r.ringIndex - r.lastIndex)
	if count < 0 {
		count += 0x10000
	}
	return count
}

// takeOne returns the oldest unconsumed UsedElement, or ok=false when the
// device has nothing new for this driver.
func (r *UsedRing) takeOne() (UsedElement, bool) {
	if r.availableToTake() == 0 {
		return UsedElement{}, false
	}
	out := r.ring[r.lastIndex%uint16(len(r.ring))]
	r.lastIndex++
	return out, true
}
