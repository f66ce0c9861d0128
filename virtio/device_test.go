package virtio

import (
	"testing"

	"github.com/ixy-go/ixy/dma"
)

// newTestDevice builds a Device around real hugepage-backed split queues and
// a fake byte-slice transport, bypassing Init's pcidev/sysfs binding — the
// same shortcut ixgbe's own RxBatch/TxBatch tests take, since hot-path logic
// never touches the PCI device itself once the queues are up.
func newTestDevice(t *testing.T, n int) *Device {
	t.Helper()
	pool, err := dma.NewMempool(n*4, dma.DefaultBufferSize)
	if err != nil {
		t.Skipf("hugepages not available in this environment: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	rx := newTestSplitQueue(t, n, unusedArenaItemSize)
	tx := newTestSplitQueue(t, n, NetHdrSize)
	transport, _ := newTestTransport()

	d := &Device{
		transport:  transport,
		rx:         rx,
		tx:         tx,
		pool:       pool,
		rxBufs:     make([]*dma.PacketBuffer, n),
		txPending:  make(map[uint16]txPendingEntry),
		bufPayload: dma.DefaultBufferSize - int(dma.DataOffset),
		features:   FeatureNetMAC | FeatureNetStatus,
	}
	for i := 0; i < n; i++ {
		buf := pool.Alloc()
		head, err := rx.OfferExternalWritable(buf.DataPhysAddr(), d.bufPayload)
		if err != nil {
			t.Fatalf("OfferExternalWritable: %v", err)
		}
		d.rxBufs[head] = buf
	}
	return d
}

func TestDevice_RxBatchReturnsZeroWhenNothingIsDone(t *testing.T) {
	d := newTestDevice(t, 8)

	out := make([]*dma.PacketBuffer, 4)
	if n := d.RxBatch(0, out); n != 0 {
		t.Fatalf("RxBatch returned %d, want 0 with no completed descriptors", n)
	}
}

func TestDevice_RxBatchStripsNetHdrAndRefills(t *testing.T) {
	d := newTestDevice(t, 8)

	head := uint16(0)
	original := d.rxBufs[head]
	d.rx.usedRing.ring[0] = UsedElement{DescriptorIndex: uint32(head), Length: NetHdrSize + 100}
	*d.rx.usedRing.ringIndex = 1

	out := make([]*dma.PacketBuffer, 4)
	n := d.RxBatch(0, out)
	if n != 1 {
		t.Fatalf("RxBatch returned %d, want 1", n)
	}
	if out[0] != original {
		t.Fatal("RxBatch did not hand back the buffer that was marked done")
	}
	if out[0].Size() != 100 {
		t.Fatalf("returned buffer size = %d, want 100 (header stripped)", out[0].Size())
	}
	if d.rxBufs[head] == original {
		t.Fatal("rx slot was not refilled with a replacement buffer")
	}
	if d.st.RxPackets != 1 || d.st.RxBytes != 100 {
		t.Fatalf("stats = %+v, want RxPackets=1 RxBytes=100", d.st)
	}
}

func TestDevice_RxBatchDropsFramesShorterThanNetHdr(t *testing.T) {
	d := newTestDevice(t, 4)

	head := uint16(0)
	d.rx.usedRing.ring[0] = UsedElement{DescriptorIndex: uint32(head), Length: NetHdrSize - 1}
	*d.rx.usedRing.ringIndex = 1

	out := make([]*dma.PacketBuffer, 4)
	if n := d.RxBatch(0, out); n != 0 {
		t.Fatalf("RxBatch returned %d, want 0 for an undersized frame", n)
	}
}

func TestDevice_TxBatchChainsHeaderAndPayloadWithoutCopyingPayload(t *testing.T) {
	d := newTestDevice(t, 4)

	pool, err := dma.NewMempool(1, dma.DefaultBufferSize)
	if err != nil {
		t.Skipf("hugepages not available in this environment: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	buf := pool.Alloc()
	buf.SetSize(64)

	n := d.TxBatch(0, []*dma.PacketBuffer{buf})
	if n != 1 {
		t.Fatalf("TxBatch returned %d, want 1", n)
	}
	if len(d.txPending) != 1 {
		t.Fatalf("txPending has %d entries, want 1", len(d.txPending))
	}
	if d.st.TxPackets != 1 || d.st.TxBytes != 64 {
		t.Fatalf("stats = %+v, want TxPackets=1 TxBytes=64", d.st)
	}

	var head uint16
	for h := range d.txPending {
		head = h
	}
	payloadDesc := d.tx.descriptorTable.descriptors[d.txPending[head].payloadHead]
	if payloadDesc.physAddr != buf.DataPhysAddr() {
		t.Fatalf("payload descriptor physAddr = %#x, want the buffer's own DataPhysAddr %#x",
			payloadDesc.physAddr, buf.DataPhysAddr())
	}
}

func TestDevice_ReclaimTxFreesBufferOnceUsedRingReportsIt(t *testing.T) {
	d := newTestDevice(t, 4)

	pool, err := dma.NewMempool(1, dma.DefaultBufferSize)
	if err != nil {
		t.Skipf("hugepages not available in this environment: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	buf := pool.Alloc()
	buf.SetSize(64)
	d.TxBatch(0, []*dma.PacketBuffer{buf})

	var head uint16
	for h := range d.txPending {
		head = h
	}
	d.tx.usedRing.ring[0] = UsedElement{DescriptorIndex: uint32(head), Length: 0}
	*d.tx.usedRing.ringIndex = 1

	d.reclaimTx()

	if len(d.txPending) != 0 {
		t.Fatalf("txPending still has %d entries after reclaim", len(d.txPending))
	}
	if got, want := pool.Available(), 1; got != want {
		t.Fatalf("pool.Available() = %d, want %d (buffer returned to the pool)", got, want)
	}
}

func TestDevice_LinkSpeedReflectsNegotiatedStatusFeature(t *testing.T) {
	d := newTestDevice(t, 4)
	d.features = FeatureNetStatus

	if d.LinkSpeed() != 0 {
		t.Fatalf("LinkSpeed() = %d, want 0 when the device reports link down", d.LinkSpeed())
	}

	bar0 := make([]byte, 64)
	copy(bar0[netConfigStatusOffset:], []byte{byte(NetStatusLinkUp), 0})
	d.transport = NewLegacyTransport(bar0)

	if got := d.LinkSpeed(); got != 10000 {
		t.Fatalf("LinkSpeed() = %d, want 10000 once link is up", got)
	}
}

func TestDevice_DriverName(t *testing.T) {
	d := newTestDevice(t, 4)
	if got := d.DriverName(); got != "virtio-net" {
		t.Fatalf("DriverName() = %q, want %q", got, "virtio-net")
	}
}
