package virtio

import (
	"fmt"
	"unsafe"

	"github.com/ixy-go/ixy/dma"
)

// SplitQueue is a split virtqueue: a descriptor table, an available ring
// the driver writes into, and a used ring the device writes into. Unlike
// an in-kernel vhost transport this one talks to a virtio-net device over
// real (or emulated) PCI hardware, so notification happens by writing the
// queue index to the transport's notify register rather than by kicking an
// eventfd, and every memory region involved — the queue's own control
// structures as well as the per-descriptor packet buffers — is physically
// contiguous DMA memory, not an anonymous mapping.
type SplitQueue struct {
	size int

	queueMem *dma.Memory // descriptor table + available ring + used ring
	bufMem   *dma.Memory // per-descriptor packet buffers

	descriptorTable *DescriptorTable
	availableRing   *AvailableRing
	usedRing        *UsedRing

	itemSize int
}

// NewSplitQueue allocates a new SplitQueue able to hold queueSize
// descriptor chains, each with itemSize bytes of buffer space.
func NewSplitQueue(queueSize int, itemSize int) (_ *SplitQueue, err error) {
	if err = CheckQueueSize(queueSize); err != nil {
		return nil, err
	}

	sq := &SplitQueue{size: queueSize, itemSize: itemSize}

	defer func() {
		if err != nil {
			_ = sq.Close()
		}
	}()

	descriptorTableStart := 0
	descriptorTableEnd := descriptorTableStart + descriptorTableSize(queueSize)
	availableRingStart := align(descriptorTableEnd, availableRingAlignment)
	availableRingEnd := availableRingStart + availableRingSize(queueSize)
	usedRingStart := align(availableRingEnd, usedRingAlignment)
	usedRingEnd := usedRingStart + usedRingSize(queueSize)

	sq.queueMem, err = dma.Allocate(usedRingEnd, true)
	if err != nil {
		return nil, fmt.Errorf("virtio: allocate queue memory: %w", err)
	}
	buf := sq.queueMem.Virt

	sq.descriptorTable = newDescriptorTable(queueSize, buf[descriptorTableStart:descriptorTableEnd], itemSize)
	sq.availableRing = newAvailableRing(queueSize, buf[availableRingStart:availableRingEnd])
	sq.usedRing = newUsedRing(queueSize, buf[usedRingStart:usedRingEnd])

	sq.bufMem, err = dma.Allocate(itemSize*queueSize, true)
	if err != nil {
		return nil, fmt.Errorf("virtio: allocate descriptor buffers: %w", err)
	}
	sq.descriptorTable.initializeDescriptors(
		uintptr(unsafe.Pointer(&sq.bufMem.Virt[0])), sq.bufMem.Phys, itemSize*queueSize)

	return sq, nil
}

// Size returns the number of descriptor chains this queue can hold.
func (sq *SplitQueue) Size() int {
	return sq.size
}

// PhysAddr returns the physical address the legacy transport's
// QueueAddress register must be set to for this queue.
func (sq *SplitQueue) PhysAddr() uint64 {
	return sq.queueMem.Phys
}

// OfferWritable makes one descriptor-sized, device-writable buffer from
// this queue's own arena available to the device and returns its head
// index. (Device.RxBatch posts mempool buffers with OfferExternalWritable
// instead.)
func (sq *SplitQueue) OfferWritable() (uint16, error) {
	head, err := sq.descriptorTable.createDescriptor(true)
	if err != nil {
		return 0, err
	}
	sq.availableRing.offerSingle(head)
	return head, nil
}

// OfferReadable copies data into a fresh descriptor-sized, device-readable
// buffer and makes it available to the device. (Device.TxBatch uses
// OfferReadableHeaderPlusExternal instead.)
func (sq *SplitQueue) OfferReadable(data []byte) (uint16, error) {
	head, err := sq.descriptorTable.createDescriptor(false)
	if err != nil {
		return 0, err
	}
	copy(sq.descriptorTable.item(head, len(data)), data)
	sq.availableRing.offerSingle(head)
	return head, nil
}

// OfferExternalWritable makes a device-writable descriptor available that
// points directly at an externally-owned buffer (physAddr, length) instead
// of this queue's own descriptor buffer arena — the shape rx uses to post
// mempool buffers straight into the ring, so a received frame can be
// handed to the caller and potentially retransmitted on a different
// device's queue without a copy.
func (sq *SplitQueue) OfferExternalWritable(physAddr uint64, length int) (uint16, error) {
	head, err := sq.descriptorTable.createDescriptor(true)
	if err != nil {
		return 0, err
	}
	sq.descriptorTable.descriptors[head].physAddr = physAddr
	sq.descriptorTable.descriptors[head].length = uint32(length)
	sq.availableRing.offerSingle(head)
	return head, nil
}

// OfferExternalReadable is OfferExternalWritable's device-read-only
// counterpart, used by tx to post a buffer's data directly without copying
// it into this queue's arena first.
func (sq *SplitQueue) OfferExternalReadable(physAddr uint64, length int) (uint16, error) {
	head, err := sq.descriptorTable.createDescriptor(false)
	if err != nil {
		return 0, err
	}
	sq.descriptorTable.descriptors[head].physAddr = physAddr
	sq.descriptorTable.descriptors[head].length = uint32(length)
	sq.availableRing.offerSingle(head)
	return head, nil
}

// OfferReadableHeaderPlusExternal offers a two-descriptor, device-read-only
// chain: header is copied into this queue's own arena (it is small and
// rebuilt for every packet, so copying it is cheap), followed by a second
// descriptor pointing directly at an externally-owned payload buffer with
// no copy — the shape tx uses to prepend a virtio-net header to a packet
// buffer without touching the buffer's own reserved header room.
func (sq *SplitQueue) OfferReadableHeaderPlusExternal(header []byte, payloadPhysAddr uint64, payloadLength int) (uint16, error) {
	dt := sq.descriptorTable

	headHead, err := dt.createDescriptor(false)
	if err != nil {
		return 0, err
	}
	copy(dt.item(headHead, len(header)), header)

	payloadHead, err := dt.createDescriptor(false)
	if err != nil {
		dt.free(headHead)
		return 0, err
	}
	dt.descriptors[payloadHead].physAddr = payloadPhysAddr
	dt.descriptors[payloadHead].length = uint32(payloadLength)

	dt.descriptors[headHead].flags |= descriptorFlagHasNext
	dt.descriptors[headHead].next = payloadHead

	sq.availableRing.offerSingle(headHead)
	return headHead, nil
}

// TakeUsed returns the oldest descriptor chain the device has finished
// with, or ok=false if there is nothing new yet.
func (sq *SplitQueue) TakeUsed() (elem UsedElement, ok bool) {
	return sq.usedRing.takeOne()
}

// Item returns the buffer backing the descriptor at head, resized to n
// bytes — used after TakeUsed to read what the device wrote.
func (sq *SplitQueue) Item(head uint16, n int) []byte {
	return sq.descriptorTable.item(head, n)
}

// Free returns a single, no-longer-needed descriptor to the free list.
func (sq *SplitQueue) Free(head uint16) {
	sq.descriptorTable.free(head)
}

// Close releases the DMA memory backing this queue.
func (sq *SplitQueue) Close() error {
	var firstErr error
	if sq.bufMem != nil {
		if err := sq.bufMem.Release(); err != nil {
			firstErr = err
		}
		sq.bufMem = nil
	}
	if sq.queueMem != nil {
		if err := sq.queueMem.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		sq.queueMem = nil
	}
	return firstErr
}
