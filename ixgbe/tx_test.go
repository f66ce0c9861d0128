package ixgbe

import (
	"testing"

	"github.com/ixy-go/ixy/dma"
)

// newTestTxQueue builds a txQueue entirely in plain Go memory, without
// touching hugepages or a real register window, so the ring-management
// logic in cleanTxRing/TxBatch can be exercised in isolation.
func newTestTxQueue(n int) *txQueue {
	mem := make([]byte, n*descriptorSize)
	return &txQueue{
		descriptors: txDescriptorRing(mem, n),
		descMem:     mem,
		bufs:        make([]*dma.PacketBuffer, n),
	}
}

func markDone(q *txQueue, i int) {
	q.descriptors[i].olinfoStatus |= txStatusDD
}

func TestCleanTxRing_DoesNothingBelowOneBatch(t *testing.T) {
	d := &Device{}
	q := newTestTxQueue(64)
	q.txIndex = txCleanBatch - 1

	d.cleanTxRing(q)

	if q.cleanIndex != 0 {
		t.Fatalf("cleanIndex = %d, want 0 (nothing should be reclaimed yet)", q.cleanIndex)
	}
}

func TestCleanTxRing_ReclaimsAFullBatchOnceMarkedDone(t *testing.T) {
	d := &Device{}
	q := newTestTxQueue(64)
	q.txIndex = txCleanBatch

	markDone(q, txCleanBatch-1)

	d.cleanTxRing(q)

	if q.cleanIndex != txCleanBatch {
		t.Fatalf("cleanIndex = %d, want %d", q.cleanIndex, txCleanBatch)
	}
}

func TestCleanTxRing_StopsWhenLastOfBatchNotDone(t *testing.T) {
	d := &Device{}
	q := newTestTxQueue(64)
	q.txIndex = txCleanBatch

	d.cleanTxRing(q)

	if q.cleanIndex != 0 {
		t.Fatalf("cleanIndex = %d, want 0 (batch not marked done)", q.cleanIndex)
	}
}

func TestCleanTxRing_WrapsAroundTheRing(t *testing.T) {
	d := &Device{}
	n := 64
	q := newTestTxQueue(n)
	q.cleanIndex = n - 8
	q.txIndex = txCleanBatch - 8

	cleanupTo := (q.cleanIndex + txCleanBatch - 1) % n
	markDone(q, cleanupTo)

	d.cleanTxRing(q)

	if q.cleanIndex != (cleanupTo+1)%n {
		t.Fatalf("cleanIndex = %d, want %d", q.cleanIndex, (cleanupTo+1)%n)
	}
}

func TestTxBatch_RefusesToOverrunTheRingBeforeCleanupCatchesUp(t *testing.T) {
	d := &Device{
		regs: newFakeRegion(0x10000),
		tx:   []*txQueue{newTestTxQueue(8)},
	}

	bufs := make([]*dma.PacketBuffer, 20)
	for i := range bufs {
		bufs[i] = fakeBuffer()
	}

	sent := d.TxBatch(0, bufs)
	if sent >= len(bufs) {
		t.Fatalf("TxBatch accepted %d packets into an 8-descriptor ring with no cleanup, want fewer", sent)
	}
	if sent == 0 {
		t.Fatal("TxBatch accepted 0 packets, want at least one before the ring fills")
	}
}
