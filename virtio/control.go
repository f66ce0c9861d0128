package virtio

import (
	"fmt"
	"time"
)

// Control queue command classes and the RX-mode commands within them, per
// the virtio-net control channel.
const (
	ctrlClassRX = 0

	ctrlCmdRXPromisc = 0
)

const (
	ctrlAckOK   = 0
	ctrlHdrSize = 2 // class + command byte
)

// pollInterval is the delay between used-ring polls while waiting for a
// control command to complete.
const pollInterval = 10 * time.Microsecond

// ControlQueue drives the virtio-net control virtqueue used to toggle
// receive filtering without renegotiating features. A command is a
// three-descriptor chain: a read-only class+command header, a read-only
// one-byte payload, and a write-only one-byte acknowledgement the device
// fills in.
type ControlQueue struct {
	queue     *SplitQueue
	transport *LegacyTransport
	index     uint16
}

// NewControlQueue wraps an already-allocated queue (size must be at least
// 3, the length of one command chain) as a ControlQueue. index is the
// virtqueue index the device expects to see notified, distinct from the
// rx/tx queues.
func NewControlQueue(transport *LegacyTransport, queue *SplitQueue, index uint16) *ControlQueue {
	return &ControlQueue{queue: queue, transport: transport, index: index}
}

// SetPromiscuous issues a VIRTIO_NET_CTRL_RX_PROMISC command and blocks
// (busy-polling) until the device acknowledges it.
func (c *ControlQueue) SetPromiscuous(enabled bool) error {
	on := byte(0)
	if enabled {
		on = 1
	}
	return c.runCommand(ctrlClassRX, ctrlCmdRXPromisc, []byte{on})
}

// runCommand builds the three-descriptor command chain directly against
// the descriptor table (SplitQueue.OfferReadable/OfferWritable each offer
// a single, unchained descriptor, which does not fit a multi-descriptor
// command), offers only the chain's head, notifies the device, and
// busy-polls the used ring for the chain's completion.
func (c *ControlQueue) runCommand(class, cmd byte, payload []byte) error {
	dt := c.queue.descriptorTable

	headHead, err := dt.createDescriptor(false)
	if err != nil {
		return fmt.Errorf("virtio: control queue header descriptor: %w", err)
	}
	copy(dt.item(headHead, ctrlHdrSize), []byte{class, cmd})

	payloadHead, err := dt.createDescriptor(false)
	if err != nil {
		return fmt.Errorf("virtio: control queue payload descriptor: %w", err)
	}
	copy(dt.item(payloadHead, len(payload)), payload)

	ackHead, err := dt.createDescriptor(true)
	if err != nil {
		return fmt.Errorf("virtio: control queue ack descriptor: %w", err)
	}
	dt.item(ackHead, 1)

	dt.descriptors[headHead].flags |= descriptorFlagHasNext
	dt.descriptors[headHead].next = payloadHead
	dt.descriptors[payloadHead].flags |= descriptorFlagHasNext
	dt.descriptors[payloadHead].next = ackHead

	c.queue.availableRing.offerSingle(headHead)
	c.transport.NotifyQueue(c.index)

	for {
		used, ok := c.queue.TakeUsed()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}
		ack := c.queue.Item(ackHead, 1)[0]
		c.queue.Free(ackHead)
		c.queue.Free(payloadHead)
		c.queue.Free(headHead)
		_ = used
		if ack != ctrlAckOK {
			return fmt.Errorf("virtio: control command class=%d cmd=%d was not acknowledged (status %d)", class, cmd, ack)
		}
		return nil
	}
}
