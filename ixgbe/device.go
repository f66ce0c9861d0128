package ixgbe

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/mmio"
	"github.com/ixy-go/ixy/pcidev"
	"github.com/ixy-go/ixy/stats"
)

// numRxDescriptors and numTxDescriptors are the descriptor ring sizes used
// for every queue; both must be a multiple of 8 per the 82599 datasheet and
// large enough that a full batch never wraps the ring more than once.
const (
	numRxDescriptors = 512
	numTxDescriptors = 512

	// txCleanBatch is how many completed descriptors TxBatch reclaims at
	// once; reclaiming in batches instead of one-by-one amortizes the cost
	// of reading back the hardware's DD bit.
	txCleanBatch = 32

	// minMempoolEntries is the floor on each rx queue's buffer pool size,
	// regardless of how small the descriptor rings are.
	minMempoolEntries = 4096
)

type rxQueue struct {
	descriptors []rxDescriptor
	descMem     []byte
	bufs        []*dma.PacketBuffer
	pool        *dma.Mempool
	rxIndex     int
}

type txQueue struct {
	descriptors []txDescriptor
	descMem     []byte
	bufs        []*dma.PacketBuffer
	cleanIndex  int
	txIndex     int
}

// Device drives one 82599-family NIC: register access, descriptor rings,
// and the mempools backing them.
type Device struct {
	log     *logrus.Logger
	pci     *pcidev.Device
	regs    *mmio.Region
	addr    string
	rx      []*rxQueue
	tx      []*txQueue
	st      stats.Stats
	closed  bool
}

// Init binds to the NIC at pciAddr, maps its BAR0, resets and
// reinitializes it, and brings up rxQueues receive and txQueues transmit
// queues ready for RxBatch/TxBatch.
func Init(l *logrus.Logger, pciAddr string, rxQueues, txQueues int) (*Device, error) {
	pci, err := pcidev.Open(pciAddr)
	if err != nil {
		return nil, err
	}
	if err := pcidev.RequireClass(pci, 0x02); err != nil {
		return nil, err
	}

	bar0, err := pci.MapResource(0)
	if err != nil {
		return nil, fmt.Errorf("ixgbe: map BAR0 of %s: %w", pciAddr, err)
	}

	d := &Device{
		log:  l,
		pci:  pci,
		regs: mmio.New(bar0),
		addr: pciAddr,
	}
	d.st.PCIAddr = pciAddr
	d.st.DriverName = "ixgbe"

	if err := d.resetAndInit(); err != nil {
		return nil, fmt.Errorf("ixgbe: reset %s: %w", pciAddr, err)
	}

	for i := 0; i < rxQueues; i++ {
		q, err := d.initRxQueue()
		if err != nil {
			return nil, fmt.Errorf("ixgbe: init rx queue %d: %w", i, err)
		}
		d.rx = append(d.rx, q)
	}
	for i := 0; i < txQueues; i++ {
		q, err := d.initTxQueue()
		if err != nil {
			return nil, fmt.Errorf("ixgbe: init tx queue %d: %w", i, err)
		}
		d.tx = append(d.tx, q)
	}

	d.startRx(rxQueues)
	d.startTx(txQueues)

	d.waitForLink()

	return d, nil
}

// resetAndInit performs the datasheet's software reset sequence: disable
// interrupts, issue a full device reset, wait for the EEPROM auto-read to
// complete, re-disable interrupts (the reset clears the mask), then flip on
// CRC strip, jumbo frames, and the driver-loaded bit. (Bus-master DMA is
// enabled earlier, by pcidev.Device.MapResource.)
func (d *Device) resetAndInit() error {
	d.log.Debugf("ixgbe: resetting %s", d.addr)

	d.regs.Write32(regEIMC, eimcMask)

	d.regs.SetFlags(regCTRL, ctrlRST)
	if err := d.regs.WaitSet(regEEC, eecARDDone, 10*time.Second); err != nil {
		return fmt.Errorf("eeprom auto-read did not complete: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	d.regs.Write32(regEIMC, eimcMask)

	d.regs.SetFlags(regHLREG0, hlreg0TXCRCEN|hlreg0RXCRCSTRP|hlreg0JumboEN)
	d.regs.SetFlags(regRDRXCTL, rdrxctlCRCStrip)

	if err := d.regs.WaitSet(regRDRXCTL, rdrxctlDMAIDone, time.Second); err != nil {
		return fmt.Errorf("dma init did not complete: %w", err)
	}

	d.initLink()

	for tc := 0; tc < 8; tc++ {
		d.regs.Write32(regRXPBSIZE+4*uintptr(tc), 0)
	}
	d.regs.Write32(regRXPBSIZE, 512<<10)
	d.regs.Write32(regTXPBSIZE, 40<<10)
	for tc := 1; tc < 8; tc++ {
		d.regs.Write32(regTXPBSIZE+4*uintptr(tc), 0)
	}
	d.regs.Write32(regDTXMXSZRQ, 0xFFFF)
	d.regs.ClearFlags(regRTTDCS, rttdcsARBDIS)

	d.regs.SetFlags(regFCTRL, fctrlBAM|fctrlUPE|fctrlMPE)

	d.regs.SetFlags(regCTRLExt, ctrlExtDriverLoaded)

	return nil
}

// initLink forces 10G full-duplex autonegotiation, matching the fixed link
// speed this driver targets; unlike the kernel driver, there is no PHY
// abstraction layer here to negotiate anything lower.
func (d *Device) initLink() {
	autoc := d.regs.Read32(regAUTOC)
	autoc = (autoc &^ uint32(0x7<<13)) | autocLMS10G
	d.regs.Write32(regAUTOC, autoc)
	d.regs.SetFlags(regAUTOC, autocANRestart)
}

func (d *Device) waitForLink() {
	d.log.Debug("ixgbe: waiting for link")
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if d.regs.Read32(regLINKS)&linksUp != 0 {
			d.log.Infof("ixgbe: %s link is up", d.addr)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.log.Warnf("ixgbe: %s link did not come up within 10s", d.addr)
}

func (d *Device) initRxQueue() (*rxQueue, error) {
	ringBytes := numRxDescriptors * descriptorSize
	mem, err := dma.Allocate(ringBytes, true)
	if err != nil {
		return nil, fmt.Errorf("allocate descriptor ring: %w", err)
	}

	poolEntries := numRxDescriptors + numTxDescriptors
	if poolEntries < minMempoolEntries {
		poolEntries = minMempoolEntries
	}
	pool, err := dma.NewMempool(poolEntries, dma.DefaultBufferSize)
	if err != nil {
		return nil, fmt.Errorf("allocate mempool: %w", err)
	}

	q := &rxQueue{
		descriptors: rxDescriptorRing(mem.Virt, numRxDescriptors),
		descMem:     mem.Virt,
		bufs:        make([]*dma.PacketBuffer, numRxDescriptors),
		pool:        pool,
	}

	queue := len(d.rx)
	base := queueOffset(regRDBAL, queueStrideRx, queue)
	d.regs.Write32(base, uint32(mem.Phys))
	d.regs.Write32(base+4, uint32(mem.Phys>>32))
	d.regs.Write32(queueOffset(regRDLEN, queueStrideRx, queue), uint32(ringBytes))
	d.regs.Write32(queueOffset(regSRRCTL, queueStrideRx, queue),
		(uint32(dma.DefaultBufferSize)>>10)|srrctlDescTypeAdvOneBuf)
	d.regs.SetFlags(queueOffset(regSRRCTL, queueStrideRx, queue), srrctlDropEn)

	for i := range q.descriptors {
		buf := pool.Alloc()
		if buf == nil {
			return nil, fmt.Errorf("mempool exhausted filling rx queue %d", queue)
		}
		q.descriptors[i].reset(buf.DataPhysAddr())
		q.bufs[i] = buf
	}

	return q, nil
}

func (d *Device) initTxQueue() (*txQueue, error) {
	ringBytes := numTxDescriptors * descriptorSize
	mem, err := dma.Allocate(ringBytes, true)
	if err != nil {
		return nil, fmt.Errorf("allocate descriptor ring: %w", err)
	}

	q := &txQueue{
		descriptors: txDescriptorRing(mem.Virt, numTxDescriptors),
		descMem:     mem.Virt,
		bufs:        make([]*dma.PacketBuffer, numTxDescriptors),
	}

	queue := len(d.tx)
	base := queueOffset(regTDBAL, queueStrideTx, queue)
	d.regs.Write32(base, uint32(mem.Phys))
	d.regs.Write32(base+4, uint32(mem.Phys>>32))
	d.regs.Write32(queueOffset(regTDLEN, queueStrideTx, queue), uint32(ringBytes))

	txdctl := d.regs.Read32(queueOffset(regTXDCTL, queueStrideTx, queue))
	txdctl = (txdctl &^ uint32(0x3f)) | 36
	txdctl = (txdctl &^ uint32(0x3f<<8)) | 8<<8
	d.regs.Write32(queueOffset(regTXDCTL, queueStrideTx, queue), txdctl)

	return q, nil
}

func (d *Device) startRx(n int) {
	d.regs.SetFlags(regRXCTRL, rxctrlRXEN)
	for i := 0; i < n; i++ {
		d.regs.SetFlags(queueOffset(regRXDCTL, queueStrideRx, i), rxdctlENABLE)
		_ = d.regs.WaitSet(queueOffset(regRXDCTL, queueStrideRx, i), rxdctlENABLE, time.Second)
		d.regs.Write32(queueOffset(regRDT, queueStrideRx, i), uint32(numRxDescriptors-1))
	}
}

func (d *Device) startTx(n int) {
	d.regs.SetFlags(regDMATXCTL, dmatxctlTE)
	for i := 0; i < n; i++ {
		d.regs.SetFlags(queueOffset(regTXDCTL, queueStrideTx, i), txdctlENABLE)
		_ = d.regs.WaitSet(queueOffset(regTXDCTL, queueStrideTx, i), txdctlENABLE, time.Second)
	}
}

// ReadStats latches the hardware's rollover-prone counters (they clear to
// zero on read) into the device's running totals and copies those totals
// into s, overwriting its previous contents.
func (d *Device) ReadStats(s *stats.Stats) {
	rxPackets := uint64(d.regs.Read32(regGPRC))
	txPackets := uint64(d.regs.Read32(regGPTC))
	rxBytes := uint64(d.regs.Read32(regGORCL)) | uint64(d.regs.Read32(regGORCH))<<32
	txBytes := uint64(d.regs.Read32(regGOTCL)) | uint64(d.regs.Read32(regGOTCH))<<32

	d.st.AddHardwareCounters(rxPackets, rxBytes, txPackets, txBytes)
	*s = d.st
}

// LinkSpeed returns the negotiated link speed in Mbit/s, or 0 when the link
// is down.
func (d *Device) LinkSpeed() int {
	links := d.regs.Read32(regLINKS)
	if links&linksUp == 0 {
		return 0
	}
	// LINKS bits 29:28 hold the link speed: 01 = 100M, 10 = 1G, 11 = 10G.
	switch (links >> 28) & 0x3 {
	case 1:
		return 100
	case 2:
		return 1000
	case 3:
		return 10000
	}
	return 0
}

// DriverName identifies this backend for logging and metric labels.
func (d *Device) DriverName() string {
	return "ixgbe"
}

// Close disables every queue and releases the rx queues' mempools. The BAR0
// mapping and the descriptor rings' DMA memory are not released. It is safe
// to call more than once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	for i := range d.rx {
		d.regs.ClearFlags(queueOffset(regRXDCTL, queueStrideRx, i), rxdctlENABLE)
	}
	for i := range d.tx {
		d.regs.ClearFlags(queueOffset(regTXDCTL, queueStrideTx, i), txdctlENABLE)
	}

	for _, q := range d.rx {
		_ = q.pool.Close()
	}

	return nil
}
