package virtio

import (
	"fmt"
	"unsafe"
)

// availableRingFlag is a flag that describes an AvailableRing.
type availableRingFlag uint16

const (
	// availableRingFlagNoInterrupt advises the device to not interrupt the
	// driver when consuming a buffer. This driver never uses interrupts —
	// it polls — so the flag is set unconditionally.
	availableRingFlagNoInterrupt availableRingFlag = 1 << iota
)

// availableRingSize is the number of bytes needed to store an AvailableRing
// with the given queue size in memory.
func availableRingSize(queueSize int) int {
	return 6 + 2*queueSize
}

// availableRingAlignment is the minimum alignment required by the virtio
// spec.
const availableRingAlignment = 2

// AvailableRing is where the driver offers descriptor chains to the
// device. Each entry refers to the head of a descriptor chain in a
// DescriptorTable. Written only by the driver, read only by the device.
type AvailableRing struct {
	flags     *availableRingFlag
	ringIndex *uint16
	ring      []uint16
	usedEvent *uint16
}

// newAvailableRing wraps mem, which must be exactly availableRingSize(queueSize)
// bytes, as an AvailableRing.
func newAvailableRing(queueSize int, mem []byte) *AvailableRing {
	ringSize := availableRingSize(queueSize)
	if len(mem) != ringSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size for available ring: %v", len(mem), ringSize))
	}

	r := &AvailableRing{
		flags:     (*availableRingFlag)(unsafe.Pointer(&mem[0])),
		ringIndex: (*uint16)(unsafe.Pointer(&mem[2])),
		ring:      unsafe.Slice((*uint16)(unsafe.Pointer(&mem[4])), queueSize),
		usedEvent: (*uint16)(unsafe.Pointer(&mem[ringSize-2])),
	}
	*r.flags = availableRingFlagNoInterrupt
	return r
}

// offerSingle adds one descriptor chain head to the ring and advances the
// ring index so the device picks it up.
func (r *AvailableRing) offerSingle(head uint16) {
	insertIndex := int(*r.ringIndex) % len(r.ring)
	r.ring[insertIndex] = head
	*r.ringIndex++
}
