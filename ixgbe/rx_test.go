package ixgbe

import (
	"testing"

	"github.com/ixy-go/ixy/dma"
)

// newTestRxQueue builds an rxQueue backed by a real hugepage mempool, since
// RxBatch's refill path needs a genuine pool to allocate replacement
// buffers from. Skips when hugepages aren't available in the sandbox this
// runs in.
func newTestRxQueue(t *testing.T, n int) *rxQueue {
	t.Helper()
	pool, err := dma.NewMempool(n*2, dma.DefaultBufferSize)
	if err != nil {
		t.Skipf("hugepages not available in this environment: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	mem := make([]byte, n*descriptorSize)
	q := &rxQueue{
		descriptors: rxDescriptorRing(mem, n),
		descMem:     mem,
		bufs:        make([]*dma.PacketBuffer, n),
		pool:        pool,
	}
	for i := range q.descriptors {
		buf := pool.Alloc()
		q.descriptors[i].reset(buf.DataPhysAddr())
		q.bufs[i] = buf
	}
	return q
}

func TestRxBatch_ReturnsZeroWhenNothingIsDone(t *testing.T) {
	q := newTestRxQueue(t, 8)
	d := &Device{regs: newFakeRegion(0x10000), rx: []*rxQueue{q}}

	out := make([]*dma.PacketBuffer, 4)
	if n := d.RxBatch(0, out); n != 0 {
		t.Fatalf("RxBatch returned %d, want 0 with no completed descriptors", n)
	}
}

func TestRxBatch_CollectsCompletedDescriptorsAndRefills(t *testing.T) {
	q := newTestRxQueue(t, 8)
	d := &Device{regs: newFakeRegion(0x10000), rx: []*rxQueue{q}}

	original := q.bufs[0]
	q.descriptors[0].wbStatusLength = uint32(128)<<16 | rxStatusDD | rxStatusEOP

	out := make([]*dma.PacketBuffer, 4)
	n := d.RxBatch(0, out)
	if n != 1 {
		t.Fatalf("RxBatch returned %d, want 1", n)
	}
	if out[0] != original {
		t.Fatal("RxBatch did not return the buffer that was marked done")
	}
	if out[0].Size() != 128 {
		t.Fatalf("returned buffer size = %d, want 128", out[0].Size())
	}
	if q.bufs[0] == original {
		t.Fatal("slot 0 was not refilled with a new buffer")
	}
	if q.descriptors[0].status()&rxStatusDD != 0 {
		t.Fatal("descriptor 0 still reports DD after being reclaimed")
	}
}

func TestRxBatch_StopsAtPoolExhaustionWithoutShrinkingTheRing(t *testing.T) {
	q := newTestRxQueue(t, 4)
	d := &Device{regs: newFakeRegion(0x10000), rx: []*rxQueue{q}}

	for i := range q.descriptors {
		q.descriptors[i].wbStatusLength = uint32(64)<<16 | rxStatusDD | rxStatusEOP
	}
	// Drain the pool so no replacement buffers are available; the 4
	// buffers currently sitting in the ring are the only ones that exist.
	for q.pool.Available() > 0 {
		q.pool.Alloc()
	}

	out := make([]*dma.PacketBuffer, 4)
	n := d.RxBatch(0, out)
	if n != 0 {
		t.Fatalf("RxBatch returned %d, want 0 once the pool is exhausted", n)
	}
}
