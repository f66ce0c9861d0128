package virtio

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/pcidev"
	"github.com/ixy-go/ixy/stats"
)

// unusedArenaItemSize sizes the rx queue's descriptor buffer arena, which
// rx never actually uses — every rx descriptor points at an external
// mempool buffer instead — so this is just a nonzero placeholder.
const unusedArenaItemSize = 8

// wantFeatures is the feature set this driver negotiates when offered.
// FeatureNetMergeRXBuffers and the TSO/csum offloads are deliberately left
// out: this driver always posts buffers large enough for one full frame
// and never asks the device to compute or verify checksums.
const wantFeatures = FeatureNetMAC | FeatureNetStatus | FeatureNetCtrlVQ | FeatureNetCtrlRX

// rxQueueIndex, txQueueIndex and ctrlQueueIndex are virtio-net's
// conventional virtqueue indices when multiqueue is not negotiated.
const (
	rxQueueIndex   = 0
	txQueueIndex   = 1
	ctrlQueueIndex = 2
)

// txPendingEntry tracks what a tx descriptor chain's head index refers to
// until the device reports the chain as used: the packet buffer the
// payload descriptor points at (not freed until the device is done
// reading it) and the chain's second descriptor index.
type txPendingEntry struct {
	buf         *dma.PacketBuffer
	payloadHead uint16
}

// Device drives one virtio-net device over its legacy PCI transport: a
// receive split queue, a transmit split queue, and, when the device
// offers it, a control queue used to enable promiscuous mode. Unlike
// ixgbe.Device there is no per-queue descriptor struct of our own — rx and
// tx descriptors are posted to point straight at mempool buffers, so the
// bookkeeping lives in rxBufs/txPending instead.
type Device struct {
	log       *logrus.Logger
	pci       *pcidev.Device
	transport *LegacyTransport
	addr      string

	rx *SplitQueue
	tx *SplitQueue

	ctrl *ControlQueue

	pool *dma.Mempool

	rxBufs     []*dma.PacketBuffer
	txPending  map[uint16]txPendingEntry
	bufPayload int

	features Feature
	st       stats.Stats
	closed   bool
}

// Init binds to the virtio-net device at pciAddr, negotiates features, and
// brings up one receive and one transmit queue (plus a control queue when
// offered) ready for RxBatch/TxBatch. virtio-net has no queue-count
// argument the way ixgbe.Init does — it is always exactly one rx and one
// tx queue unless multiqueue is negotiated, which this driver does not do.
func Init(l *logrus.Logger, pciAddr string) (*Device, error) {
	pci, err := pcidev.Open(pciAddr)
	if err != nil {
		return nil, err
	}
	if err := pcidev.RequireClass(pci, 0x02); err != nil {
		return nil, err
	}

	bar0, err := pci.MapResource(0)
	if err != nil {
		return nil, fmt.Errorf("virtio: map BAR0 of %s: %w", pciAddr, err)
	}

	d := &Device{
		log:        l,
		pci:        pci,
		transport:  NewLegacyTransport(bar0),
		addr:       pciAddr,
		txPending:  make(map[uint16]txPendingEntry),
		bufPayload: dma.DefaultBufferSize - int(dma.DataOffset),
	}
	d.st.PCIAddr = pciAddr
	d.st.DriverName = "virtio-net"

	if err := d.negotiate(); err != nil {
		d.transport.Fail()
		return nil, fmt.Errorf("virtio: negotiate %s: %w", pciAddr, err)
	}

	if err := d.initQueues(); err != nil {
		d.transport.Fail()
		return nil, fmt.Errorf("virtio: init queues %s: %w", pciAddr, err)
	}

	d.transport.SetStatus(StatusDriverOK)

	if d.features&FeatureNetCtrlRX != 0 {
		if err := d.ctrl.SetPromiscuous(true); err != nil {
			d.log.Warnf("virtio: %s: enabling promiscuous mode failed: %v", pciAddr, err)
		}
	}

	return d, nil
}

// negotiate runs the standard virtio device status handshake: ACKNOWLEDGE,
// DRIVER, read device features, accept the subset this driver understands.
func (d *Device) negotiate() error {
	d.transport.Reset()
	d.transport.SetStatus(StatusAcknowledge)
	d.transport.SetStatus(StatusDriver)

	d.features = d.transport.NegotiateFeatures(wantFeatures)
	if d.features&FeatureNetCtrlVQ == 0 {
		d.log.Debugf("virtio: %s: device did not offer a control queue, promiscuous mode unavailable", d.addr)
	}
	return nil
}

// selectQueueSize selects index and blocks until the device reports a
// nonzero size for it, returning that size. The legacy transport gives a
// driver no say in queue size — it is fixed by the device and must be read
// back before allocating the matching SplitQueue, or the posted ring layout
// and page-shifted address will not match what the device expects.
func (d *Device) selectQueueSize(index uint16) (uint16, error) {
	d.transport.SelectQueue(index)
	if err := d.transport.WaitQueueReady(time.Second); err != nil {
		return 0, err
	}
	return d.transport.QueueSize(), nil
}

func (d *Device) initQueues() error {
	rxSize, err := d.selectQueueSize(rxQueueIndex)
	if err != nil {
		return fmt.Errorf("rx queue size: %w", err)
	}
	rx, err := NewSplitQueue(int(rxSize), unusedArenaItemSize)
	if err != nil {
		return fmt.Errorf("allocate rx queue: %w", err)
	}
	d.rx = rx
	if err := d.transport.SetQueueAddress(rx.PhysAddr()); err != nil {
		return err
	}

	txSize, err := d.selectQueueSize(txQueueIndex)
	if err != nil {
		return fmt.Errorf("tx queue size: %w", err)
	}
	tx, err := NewSplitQueue(int(txSize), NetHdrSize)
	if err != nil {
		return fmt.Errorf("allocate tx queue: %w", err)
	}
	d.tx = tx
	if err := d.transport.SetQueueAddress(tx.PhysAddr()); err != nil {
		return err
	}

	poolEntries := int(rxSize) + int(txSize)
	pool, err := dma.NewMempool(poolEntries, dma.DefaultBufferSize)
	if err != nil {
		return fmt.Errorf("allocate mempool: %w", err)
	}
	d.pool = pool

	d.rxBufs = make([]*dma.PacketBuffer, rxSize)
	for i := 0; i < int(rxSize); i++ {
		buf := d.pool.Alloc()
		if buf == nil {
			return fmt.Errorf("mempool exhausted filling rx queue")
		}
		head, err := rx.OfferExternalWritable(buf.DataPhysAddr(), d.bufPayload)
		if err != nil {
			return fmt.Errorf("fill rx queue: %w", err)
		}
		d.rxBufs[head] = buf
	}
	d.transport.NotifyQueue(rxQueueIndex)

	if d.features&FeatureNetCtrlVQ != 0 {
		ctrlSize, err := d.selectQueueSize(ctrlQueueIndex)
		if err != nil {
			return fmt.Errorf("control queue not offered despite FeatureNetCtrlVQ: %w", err)
		}
		ctrlQueue, err := NewSplitQueue(int(ctrlSize), 8)
		if err != nil {
			return fmt.Errorf("allocate control queue: %w", err)
		}
		if err := d.transport.SetQueueAddress(ctrlQueue.PhysAddr()); err != nil {
			return err
		}
		d.ctrl = NewControlQueue(d.transport, ctrlQueue, ctrlQueueIndex)
	}

	return nil
}

// RxBatch collects up to len(bufs) received frames, stripping the
// virtio-net header each one carries and handing back the buffer that was
// sitting on the ring directly (no copy). The single queueID argument is
// part of the shared ixy.Device interface; virtio-net without multiqueue
// only ever has one receive queue.
func (d *Device) RxBatch(queueID int, bufs []*dma.PacketBuffer) int {
	n := 0
	for n < len(bufs) {
		used, ok := d.rx.TakeUsed()
		if !ok {
			break
		}
		head := used.Head()
		buf := d.rxBufs[head]
		d.rxBufs[head] = nil
		d.rx.Free(head)

		if used.Length < NetHdrSize {
			buf.Free()
			continue
		}
		buf.SetHeadRoom(NetHdrSize)
		buf.SetSize(used.Length - NetHdrSize)
		bufs[n] = buf
		n++

		d.st.RxPackets++
		d.st.RxBytes += uint64(used.Length - NetHdrSize)

		if replacement := d.pool.Alloc(); replacement != nil {
			newHead, err := d.rx.OfferExternalWritable(replacement.DataPhysAddr(), d.bufPayload)
			if err != nil {
				d.log.Warnf("virtio: %s: could not refill rx queue: %v", d.addr, err)
				replacement.Free()
				continue
			}
			d.rxBufs[newHead] = replacement
		} else {
			d.log.Warnf("virtio: %s: mempool exhausted, rx queue running short", d.addr)
		}
	}
	if n > 0 {
		d.transport.NotifyQueue(rxQueueIndex)
	}
	return n
}

// TxBatch submits up to len(bufs) frames for transmission, prepending a
// freshly built virtio-net header ahead of each buffer's payload without
// copying the payload itself, and reclaims descriptors (and the buffers
// they pointed at) the device has already finished with.
func (d *Device) TxBatch(queueID int, bufs []*dma.PacketBuffer) int {
	d.reclaimTx()

	var hdrBytes [NetHdrSize]byte

	n := 0
	for n < len(bufs) {
		buf := bufs[n]
		head, err := d.tx.OfferReadableHeaderPlusExternal(hdrBytes[:], buf.DataPhysAddr(), int(buf.Size()))
		if err != nil {
			break
		}
		payloadHead := d.tx.descriptorTable.descriptors[head].next
		d.txPending[head] = txPendingEntry{buf: buf, payloadHead: payloadHead}

		d.st.TxPackets++
		d.st.TxBytes += uint64(buf.Size())
		n++
	}
	if n > 0 {
		d.transport.NotifyQueue(txQueueIndex)
	}
	return n
}

// reclaimTx frees every tx descriptor chain (and the buffer it referenced)
// the device has finished reading, which must happen before the buffer is
// reused — unlike the control queue's synchronous wait, tx never blocks
// for completion.
func (d *Device) reclaimTx() {
	for {
		used, ok := d.tx.TakeUsed()
		if !ok {
			return
		}
		head := used.Head()
		entry, ok := d.txPending[head]
		if !ok {
			continue
		}
		delete(d.txPending, head)
		d.tx.Free(entry.payloadHead)
		d.tx.Free(head)
		entry.buf.Free()
	}
}

// ReadStats returns the running totals this driver counts in RxBatch and
// TxBatch. Unlike ixgbe there is no hardware counter register file to
// latch from; the legacy virtio-net device-config area exposes only link
// status and the MAC address.
func (d *Device) ReadStats(s *stats.Stats) {
	*s = d.st
}

// LinkSpeed reports the negotiated link state when FeatureNetStatus was
// offered; virtio-net has no concept of a link rate, so a nominal 10G is
// reported while up to keep callers that print a speed from showing zero.
func (d *Device) LinkSpeed() int {
	if d.features&FeatureNetStatus != 0 && !d.transport.LinkUp() {
		return 0
	}
	return 10000
}

// DriverName identifies this backend for logging and metric labels.
func (d *Device) DriverName() string {
	return "virtio-net"
}

// Close tears down both split queues, the control queue if any, and the
// backing mempool. Safe to call more than once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	d.transport.Reset()

	for _, buf := range d.rxBufs {
		if buf != nil {
			buf.Free()
		}
	}
	for _, entry := range d.txPending {
		entry.buf.Free()
	}

	var firstErr error
	if d.rx != nil {
		if err := d.rx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.tx != nil {
		if err := d.tx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.ctrl != nil {
		if err := d.ctrl.queue.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.pool != nil {
		if err := d.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
