package dma

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

var (
	poolRegistryMu sync.Mutex
	poolRegistry   = make(map[uint32]*Mempool)
	nextPoolID     uint32
)

func registerPool(p *Mempool) {
	poolRegistryMu.Lock()
	defer poolRegistryMu.Unlock()
	poolRegistry[p.id] = p
}

func unregisterPool(id uint32) {
	poolRegistryMu.Lock()
	defer poolRegistryMu.Unlock()
	delete(poolRegistry, id)
}

func lookupPool(id uint32) (*Mempool, bool) {
	poolRegistryMu.Lock()
	defer poolRegistryMu.Unlock()
	p, ok := poolRegistry[id]
	return p, ok
}

// Mempool is a fixed-capacity array of packet buffers plus a stack of free
// buffer indices. A Mempool and every buffer sourced from it belong to
// exactly one thread at a time; passing a buffer across threads without
// external synchronization is undefined behavior.
type Mempool struct {
	id       uint32
	mem      *Memory
	entrySize int
	buffers  []PacketBuffer
	free     []uint32
}

// NewMempool allocates one contiguous DMA region sized numEntries*entrySize,
// carves it into numEntries packet buffers with pre-computed physical
// addresses, and pushes every index onto the free stack.
//
// entrySize must divide HugepageSize; pass 0 to use DefaultBufferSize.
func NewMempool(numEntries int, entrySize int) (*Mempool, error) {
	if entrySize == 0 {
		entrySize = DefaultBufferSize
	}
	if HugepageSize%entrySize != 0 {
		return nil, fmt.Errorf("dma: entry size %d does not divide hugepage size %d", entrySize, HugepageSize)
	}
	if numEntries <= 0 {
		return nil, fmt.Errorf("dma: mempool needs a positive entry count, got %d", numEntries)
	}

	totalSize := numEntries * entrySize
	region, err := Allocate(totalSize, false)
	if err != nil {
		return nil, fmt.Errorf("dma: allocate mempool region: %w", err)
	}

	p := &Mempool{
		id:        atomic.AddUint32(&nextPoolID, 1),
		mem:       region,
		entrySize: entrySize,
		buffers:   make([]PacketBuffer, numEntries),
		free:      make([]uint32, 0, numEntries),
	}

	for i := 0; i < numEntries; i++ {
		base := region.Virt[i*entrySize : (i+1)*entrySize]
		hdr := (*bufferHeader)(unsafe.Pointer(&base[0]))
		*hdr = bufferHeader{
			physAddr: region.Phys + uint64(i*entrySize),
			poolID:   p.id,
			index:    uint32(i),
		}
		p.buffers[i] = PacketBuffer{
			hdr:      hdr,
			fullData: base[DataOffset:],
			Data:     base[DataOffset:],
		}
		p.free = append(p.free, uint32(i))
	}

	registerPool(p)

	return p, nil
}

// Capacity returns the total number of buffers this mempool was created
// with.
func (p *Mempool) Capacity() int {
	return len(p.buffers)
}

// Available returns the number of buffers currently sitting in the free
// stack.
func (p *Mempool) Available() int {
	return len(p.free)
}

// Alloc pops one buffer off the free stack, or returns nil when the pool is
// empty.
func (p *Mempool) Alloc() *PacketBuffer {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	buf := &p.buffers[idx]
	buf.hdr.size = 0
	buf.resetHeadRoom()
	return buf
}

// AllocBatch behaves as up to len(out) calls to Alloc, storing the buffers
// into out from index 0 and returning early with however many buffers were
// available. It never allocates more than len(out) buffers.
func (p *Mempool) AllocBatch(out []*PacketBuffer) int {
	count := 0
	for count < len(out) {
		buf := p.Alloc()
		if buf == nil {
			break
		}
		out[count] = buf
		count++
	}
	return count
}

// Free pushes buf's index back onto the free stack. buf must have
// originated from this mempool.
func (p *Mempool) Free(buf *PacketBuffer) {
	if buf.hdr.poolID != p.id {
		panic("dma: buffer freed to a mempool that did not allocate it")
	}
	p.free = append(p.free, buf.hdr.index)
}

// Close releases the DMA memory backing this mempool. It must only be
// called once every buffer sourced from it is out of use.
func (p *Mempool) Close() error {
	unregisterPool(p.id)
	return unmapMemory(p.mem)
}
