package dma

import "unsafe"

// DefaultBufferSize is the default packet-buffer size used by NewMempool
// when no explicit entry size is given, matching the 2 KiB RX descriptor
// buffer size configured on the ixgbe backend.
const DefaultBufferSize = 2048

// bufferHeader is the fixed-size header stored at the start of every packet
// buffer. Its size is the offset(data) constant referenced throughout the
// spec: the physical address handed to a NIC descriptor is always
// physAddr + DataOffset.
type bufferHeader struct {
	physAddr uint64
	poolID   uint32
	index    uint32
	size     uint32
	headRoom uint32
}

// DataOffset is the compile-time offset of a packet buffer's data area from
// its base physical address.
const DataOffset = uintptr(unsafe.Sizeof(bufferHeader{}))

// PacketBuffer is a fixed-size, DMA-addressable region backing one packet.
// Its physical address is immutable for its lifetime. A PacketBuffer must
// only be used by the single thread that owns its originating Mempool.
type PacketBuffer struct {
	hdr      *bufferHeader
	fullData []byte
	Data     []byte
}

// PhysAddr returns the physical address of this buffer's base (not its data
// area — see DataOffset).
func (b *PacketBuffer) PhysAddr() uint64 {
	return b.hdr.physAddr
}

// DataPhysAddr returns the physical address the NIC should be given to write
// or read this buffer's payload: PhysAddr() + DataOffset.
func (b *PacketBuffer) DataPhysAddr() uint64 {
	return b.hdr.physAddr + uint64(DataOffset)
}

// Size returns the number of valid payload bytes currently stored in Data.
func (b *PacketBuffer) Size() uint32 {
	return b.hdr.size
}

// SetSize records the number of valid payload bytes in Data, typically set
// by a receive path from the descriptor's write-back length field.
func (b *PacketBuffer) SetSize(n uint32) {
	b.hdr.size = n
}

// HeadRoom returns the number of reserved bytes at the start of Data left
// unused by the payload, e.g. for a virtio-net header.
func (b *PacketBuffer) HeadRoom() uint32 {
	return b.hdr.headRoom
}

// SetHeadRoom reserves n bytes at the start of Data for a protocol header,
// re-slicing Data so it starts after the reservation.
func (b *PacketBuffer) SetHeadRoom(n uint32) {
	b.hdr.headRoom = n
	b.Data = b.fullData[n:]
}

// resetHeadRoom restores Data to the buffer's full data area, undoing any
// prior SetHeadRoom call. Alloc calls this automatically.
func (b *PacketBuffer) resetHeadRoom() {
	b.hdr.headRoom = 0
	b.Data = b.fullData
}

// NewStandaloneBuffer wraps a plain byte slice as a PacketBuffer not backed
// by any Mempool, with the given physical address as its base. It is meant
// for one-off control-plane buffers — a virtio control queue command, a
// gratuitous ARP reply — that are built once and never need to cycle
// through a pool's free stack. Free is a no-op on a standalone buffer.
func NewStandaloneBuffer(virt []byte, physAddr uint64) *PacketBuffer {
	hdr := &bufferHeader{physAddr: physAddr, size: uint32(len(virt))}
	return &PacketBuffer{hdr: hdr, fullData: virt, Data: virt}
}

// Mempool resolves this buffer's originating Mempool through the package
// registry. It returns false if the owning Mempool has already been closed;
// per this package's ownership contract, that should never happen while a
// buffer sourced from it is still live.
func (b *PacketBuffer) Mempool() (*Mempool, bool) {
	return lookupPool(b.hdr.poolID)
}

// Free returns this buffer to its originating mempool's free stack. It is a
// no-op (rather than a panic) when the mempool has already been closed, to
// keep shutdown ordering forgiving.
func (b *PacketBuffer) Free() {
	if pool, ok := b.Mempool(); ok {
		pool.Free(b)
	}
}
