package ixgbe

import (
	"fmt"

	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/util"
)

// RxBatch fills bufs with up to len(bufs) received packets from the given
// queue and returns how many it filled. Every completed descriptor is
// immediately refilled with a fresh buffer from the queue's mempool so the
// ring never runs short; if the pool is exhausted, RxBatch stops early
// rather than leaving a hole in the ring.
func (d *Device) RxBatch(queueID int, bufs []*dma.PacketBuffer) int {
	q := d.rx[queueID]
	received := 0

	for received < len(bufs) {
		i := q.rxIndex
		desc := &q.descriptors[i]

		if desc.status()&rxStatusDD == 0 {
			break
		}
		if desc.status()&rxStatusEOP == 0 {
			util.Fatal(d.log, fmt.Errorf(
				"ixgbe: queue %d descriptor %d completed without EOP (frame larger than one rx buffer is not supported)",
				queueID, i))
		}

		replacement := q.pool.Alloc()
		if replacement == nil {
			// Nothing to refill this slot with; leave the completed
			// buffer in place and stop rather than shrink the ring.
			break
		}

		completed := q.bufs[i]
		completed.SetSize(uint32(desc.length()))

		q.bufs[i] = replacement
		desc.reset(replacement.DataPhysAddr())

		bufs[received] = completed
		received++

		q.rxIndex = (i + 1) % len(q.descriptors)
	}

	if received > 0 {
		prev := q.rxIndex - 1
		if prev < 0 {
			prev = len(q.descriptors) - 1
		}
		d.regs.Write32(queueOffset(regRDT, queueStrideRx, queueID), uint32(prev))
	}

	return received
}
