package ixgbe

import "github.com/ixy-go/ixy/dma"

// TxBatch enqueues up to len(bufs) packets for transmission on the given
// queue and returns how many it accepted. Descriptors are reclaimed in
// batches of txCleanBatch: checking the hardware's done bit one descriptor
// at a time would mean a cache-line bounce on every single packet.
func (d *Device) TxBatch(queueID int, bufs []*dma.PacketBuffer) int {
	q := d.tx[queueID]

	d.cleanTxRing(q)

	sent := 0
	for sent < len(bufs) {
		next := (q.txIndex + 1) % len(q.descriptors)
		if next == q.cleanIndex {
			// Ring is full until the next batch of cleanup runs.
			break
		}

		buf := bufs[sent]
		q.descriptors[q.txIndex].setRead(buf.DataPhysAddr(), buf.Size())
		q.bufs[q.txIndex] = buf

		q.txIndex = next
		sent++
	}

	if sent > 0 {
		d.regs.Write32(queueOffset(regTDT, queueStrideTx, queueID), uint32(q.txIndex))
	}

	return sent
}

// cleanTxRing reclaims descriptors in fixed-size batches: it only checks
// the hardware's done bit on the last descriptor of a candidate batch, and
// if that one is done, the whole batch is guaranteed done too since the
// hardware transmits in order. Checking one descriptor to clear
// txCleanBatch of them amortizes the cost of observing the done bit, which
// otherwise means a cache-line bounce per packet.
func (d *Device) cleanTxRing(q *txQueue) {
	n := len(q.descriptors)

	for {
		cleanable := q.txIndex - q.cleanIndex
		if cleanable < 0 {
			cleanable += n
		}
		if cleanable < txCleanBatch {
			return
		}

		cleanupTo := q.cleanIndex + txCleanBatch - 1
		if cleanupTo >= n {
			cleanupTo -= n
		}

		if !q.descriptors[cleanupTo].done() {
			return
		}

		for i := q.cleanIndex; ; i = (i + 1) % n {
			if q.bufs[i] != nil {
				q.bufs[i].Free()
				q.bufs[i] = nil
			}
			if i == cleanupTo {
				break
			}
		}
		q.cleanIndex = (cleanupTo + 1) % n
	}
}
