package virtio

import (
	"fmt"
	"time"

	"github.com/ixy-go/ixy/mmio"
)

// Legacy (pre-1.0) virtio-pci register offsets within BAR0. This layout
// predates the capability-list-based "modern" transport entirely: every
// field lives at a fixed offset, there is no VIRTIO_PCI_CAP_* discovery.
const (
	regDeviceFeatures = 0x00 // 32-bit RO
	regDriverFeatures = 0x04 // 32-bit RW
	regQueueAddress   = 0x08 // 32-bit RW, physical address >> 12
	regQueueSize      = 0x0C // 16-bit RO
	regQueueSelect    = 0x0E // 16-bit RW
	regQueueNotify    = 0x10 // 16-bit RW
	regDeviceStatus   = 0x12 // 8-bit RW
	regISRStatus      = 0x13 // 8-bit RO, read clears

	// regDeviceConfig is where device-specific configuration starts — for
	// virtio-net, the 6-byte MAC address followed by a 2-byte link status.
	regDeviceConfig = 0x14
)

const (
	// StatusAcknowledge through StatusDriverOK are standard virtio device
	// status bits, written by the driver in order during initialization.
	StatusAcknowledge = 1
	StatusDriver      = 2
	StatusDriverOK    = 4
	StatusFailed      = 128
)

const (
	netConfigMACOffset    = regDeviceConfig
	netConfigStatusOffset = regDeviceConfig + 6

	// NetStatusLinkUp is bit 0 of the virtio-net config status field.
	NetStatusLinkUp = 1
)

// LegacyTransport drives a virtio device's legacy PCI I/O-port register
// layout. Despite the name this project accesses it the same way it
// accesses ixgbe's MMIO BAR — through a mapped byte-addressable window —
// which diverges from real legacy virtio-pci (those registers are I/O
// ports, read with IN/OUT, not memory-mapped); see the design ledger for
// why that simplification was made.
type LegacyTransport struct {
	regs *mmio.Region
}

// NewLegacyTransport wraps an already-mapped BAR0 region.
func NewLegacyTransport(bar0 []byte) *LegacyTransport {
	return &LegacyTransport{regs: mmio.New(bar0)}
}

// Reset drives the device status register back to zero, the legacy
// equivalent of a full device reset.
func (t *LegacyTransport) Reset() {
	t.regs.Write8(regDeviceStatus, 0)
}

// SetStatus ORs bits into the device status register, matching the
// virtio spec's requirement that driver initialization only ever adds
// status bits, never clears them except via Reset. Status is a single
// byte squeezed between the 16-bit queue-notify register and the 8-bit
// ISR-status register, so this must not touch its neighbors with a wider
// read-modify-write.
func (t *LegacyTransport) SetStatus(bits uint8) {
	t.regs.Write8(regDeviceStatus, t.regs.Read8(regDeviceStatus)|bits)
}

// Fail marks the device as failed, per the spec's initialization error
// path; Init calls it when feature negotiation or queue setup fails.
func (t *LegacyTransport) Fail() {
	t.SetStatus(StatusFailed)
}

// DeviceFeatures returns the device's offered feature bitset (32 bits on
// the legacy transport).
func (t *LegacyTransport) DeviceFeatures() Feature {
	return Feature(t.regs.Read32(regDeviceFeatures))
}

// NegotiateFeatures writes the subset of want the device actually offers
// back as the driver's accepted feature set, and returns what was
// accepted.
func (t *LegacyTransport) NegotiateFeatures(want Feature) Feature {
	accepted := t.DeviceFeatures() & want
	t.regs.Write32(regDriverFeatures, uint32(accepted))
	return accepted
}

// SelectQueue points subsequent queue-scoped register access at queue
// index.
func (t *LegacyTransport) SelectQueue(index uint16) {
	t.regs.Write16(regQueueSelect, index)
}

// QueueSize returns the selected queue's size as reported by the device.
func (t *LegacyTransport) QueueSize() uint16 {
	return t.regs.Read16(regQueueSize)
}

// SetQueueAddress programs the selected queue's physical base address.
// The legacy transport only has room for a 32-bit, page-shifted address,
// which bounds where virtqueue memory may be allocated — another reason
// this driver always sources it from a single hugepage via dma.Allocate.
func (t *LegacyTransport) SetQueueAddress(physAddr uint64) error {
	if physAddr%4096 != 0 {
		return fmt.Errorf("virtio: queue address %#x is not page-aligned", physAddr)
	}
	if physAddr>>12 > 0xffffffff {
		return fmt.Errorf("virtio: queue address %#x exceeds the legacy transport's 32-bit page-shifted field", physAddr)
	}
	t.regs.Write32(regQueueAddress, uint32(physAddr>>12))
	return nil
}

// NotifyQueue rings the doorbell for the given queue index, telling the
// device to look at its available ring.
func (t *LegacyTransport) NotifyQueue(index uint16) {
	t.regs.Write16(regQueueNotify, index)
}

// ISRStatus reads (and, per the spec, clears) the interrupt status
// register. This driver polls rather than taking interrupts, but the bit
// is still useful as a fast "did anything happen" check.
func (t *LegacyTransport) ISRStatus() uint8 {
	return t.regs.Read8(regISRStatus)
}

// MAC reads the device's configured MAC address out of its device-specific
// configuration area.
func (t *LegacyTransport) MAC() [6]byte {
	var mac [6]byte
	for i := range mac {
		mac[i] = t.regs.Read8(uintptr(netConfigMACOffset + i))
	}
	return mac
}

// LinkUp reports the virtio-net device's link status, when
// FeatureNetStatus was negotiated.
func (t *LegacyTransport) LinkUp() bool {
	return t.regs.Read16(netConfigStatusOffset)&NetStatusLinkUp != 0
}

// WaitQueueReady blocks until the device reports a non-zero size for the
// currently selected queue, or returns an error after timeout — used right
// after SelectQueue during setup.
func (t *LegacyTransport) WaitQueueReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if t.QueueSize() != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("virtio: queue did not report a size within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}
