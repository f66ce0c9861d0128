package virtio

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	// ErrNotEnoughFreeDescriptors is returned when the free descriptors are
	// exhausted, meaning the queue is full.
	ErrNotEnoughFreeDescriptors = errors.New("virtio: not enough free descriptors, queue is full")

	// ErrInvalidDescriptorChain is returned when a descriptor chain is not
	// valid for a given operation.
	ErrInvalidDescriptorChain = errors.New("virtio: invalid descriptor chain")
)

// noFreeHead marks that all descriptors are in use; impossible as a natural
// index since it exceeds the maximum queue size.
const noFreeHead = uint16(math.MaxUint16)

// descriptorTableSize is the number of bytes needed to store a
// DescriptorTable with the given queue size in memory.
func descriptorTableSize(queueSize int) int {
	return descriptorSize * queueSize
}

// descriptorTableAlignment is the minimum alignment required by the virtio
// spec.
const descriptorTableAlignment = 16

// DescriptorTable holds a virtqueue's Descriptors, addressed by index, plus
// a free-chain allocator over them. Unlike an in-kernel vhost transport,
// this table's buffers are DMA memory the NIC itself reads and writes, so
// it tracks both the virtual base (for Go-side slice access) and the
// physical base (for the addresses it actually writes into descriptors).
type DescriptorTable struct {
	descriptors []Descriptor

	freeHeadIndex uint16
	freeNum       uint16

	bufferVirtBase uintptr
	bufferPhysBase uint64
	bufferSize     int
	itemSize       int
}

// newDescriptorTable wraps mem (len == descriptorTableSize(queueSize)) as a
// DescriptorTable. Call initializeDescriptors before use.
func newDescriptorTable(queueSize int, mem []byte, itemSize int) *DescriptorTable {
	dtSize := descriptorTableSize(queueSize)
	if len(mem) != dtSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size for descriptor table: %v", len(mem), dtSize))
	}

	return &DescriptorTable{
		descriptors:   unsafe.Slice((*Descriptor)(unsafe.Pointer(&mem[0])), queueSize),
		freeHeadIndex: noFreeHead,
		itemSize:      itemSize,
	}
}

// initializeDescriptors carves one contiguous DMA buffer into numDescriptors
// equal-sized slots, one per descriptor, and threads them into a free chain.
func (dt *DescriptorTable) initializeDescriptors(virtBase uintptr, physBase uint64, bufferSize int) {
	numDescriptors := len(dt.descriptors)
	dt.bufferVirtBase = virtBase
	dt.bufferPhysBase = physBase
	dt.bufferSize = bufferSize

	for i := range dt.descriptors {
		dt.descriptors[i] = Descriptor{
			physAddr: physBase + uint64(i*dt.itemSize),
			length:   0,
			flags:    descriptorFlagHasNext,
			next:     uint16((i + 1) % numDescriptors),
		}
	}

	dt.freeHeadIndex = 0
	dt.freeNum = uint16(numDescriptors)
}

// bufferFor resolves a descriptor's physical address back to the Go byte
// slice backing it.
func (dt *DescriptorTable) bufferFor(desc *Descriptor) []byte {
	offset := desc.physAddr - dt.bufferPhysBase
	virt := dt.bufferVirtBase + uintptr(offset)
	return unsafe.Slice((*byte)(unsafe.Pointer(virt)), desc.length)
}

// createDescriptor pops one descriptor off the free chain, marks it
// writable when forInput is true, and returns its index.
func (dt *DescriptorTable) createDescriptor(forInput bool) (uint16, error) {
	if dt.freeNum < 1 {
		return 0, ErrNotEnoughFreeDescriptors
	}
	if dt.freeHeadIndex == noFreeHead {
		panic("virtio: free descriptor chain head is unset but there should be free descriptors")
	}

	head := dt.descriptors[dt.freeHeadIndex].next
	desc := &dt.descriptors[head]
	next := desc.next

	if desc.length != 0 {
		panic(fmt.Sprintf("virtio: descriptor %d should be unused but has a non-zero length", head))
	}

	// A descriptor's physAddr is reset to its arena slot here rather than
	// left as-is, because SplitQueue.OfferExternal{Writable,Readable}
	// repoint a descriptor's physAddr at an external buffer for its
	// lifetime on the ring; once freed and recycled through this arena
	// path, the slot must point back at its own backing memory.
	desc.physAddr = dt.bufferPhysBase + uint64(head)*uint64(dt.itemSize)
	desc.length = uint32(dt.itemSize)
	if forInput {
		desc.flags = descriptorFlagWritable
	} else {
		desc.flags = 0
	}
	desc.next = 0

	dt.freeNum--
	if dt.freeNum == 0 {
		if next != dt.freeHeadIndex {
			panic("virtio: descriptor chain takes up all free descriptors but does not end with the free chain head")
		}
		dt.freeHeadIndex = noFreeHead
	} else {
		dt.descriptors[dt.freeHeadIndex].next = next
	}

	return head, nil
}

// item returns the buffer backing the descriptor at head, resized to n
// bytes (n must not exceed itemSize).
func (dt *DescriptorTable) item(head uint16, n int) []byte {
	dt.descriptors[head].length = uint32(n)
	return dt.bufferFor(&dt.descriptors[head])[:n]
}

// free returns a single descriptor (not a chain) to the free list.
func (dt *DescriptorTable) free(head uint16) {
	desc := &dt.descriptors[head]
	desc.length = 0
	desc.flags = descriptorFlagHasNext
	desc.next = 0

	if dt.freeHeadIndex == noFreeHead {
		desc.next = head
		dt.freeHeadIndex = head
	} else {
		freeHeadDesc := &dt.descriptors[dt.freeHeadIndex]
		desc.next = freeHeadDesc.next
		freeHeadDesc.next = head
	}
	dt.freeNum++
}
