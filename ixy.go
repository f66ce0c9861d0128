// Package ixy is a userspace network driver and packet-processing
// framework: it binds directly to a NIC's PCI BAR from a userspace process
// (after the usual igb_uio/vfio-style unbind), and drives packets across
// descriptor rings with busy-polling instead of interrupts.
//
// Init inspects a device's PCI vendor ID and picks one of two
// backends: ixgbe for Intel 82599-family 10GbE controllers, or a
// paravirtualized legacy virtio-net backend for use under QEMU/KVM. Both
// satisfy the same Device interface, so cmd/ixy-pktgen and cmd/ixy-fwd
// never need to know which one they are driving.
package ixy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/ixgbe"
	"github.com/ixy-go/ixy/pcidev"
	"github.com/ixy-go/ixy/stats"
	"github.com/ixy-go/ixy/virtio"
)

// Device is the driver interface shared by every backend: batched,
// non-blocking rx/tx, a running stats snapshot, link state, and a clean
// shutdown.
type Device interface {
	// RxBatch fills bufs with up to len(bufs) received packets and returns
	// how many it filled. queueID selects the receive queue; backends that
	// only ever have one queue ignore it.
	RxBatch(queueID int, bufs []*dma.PacketBuffer) int

	// TxBatch submits up to len(bufs) packets for transmission and returns
	// how many it accepted; the rest remain the caller's to retry or drop.
	TxBatch(queueID int, bufs []*dma.PacketBuffer) int

	// ReadStats copies this device's current counters into s.
	ReadStats(s *stats.Stats)

	// LinkSpeed reports the negotiated link speed in Mbit/s, or 0 if down.
	LinkSpeed() int

	// DriverName identifies which backend is driving this device.
	DriverName() string

	// Close stops the device's queues and releases the packet-buffer
	// mempools its backend allocated (the virtio backend also releases its
	// virtqueue memory). The BAR mapping is not unmapped. Safe to call more
	// than once.
	Close() error
}

const (
	vendorIntel  = 0x8086
	vendorVirtIO = 0x1AF4
)

// Init opens the PCI device at pciAddr, identifies which backend it needs
// based on its PCI vendor ID, and brings it up with rxQueues receive and
// txQueues transmit queues (the virtio-net backend ignores queue counts
// above 1, since it does not negotiate multiqueue).
func Init(l *logrus.Logger, pciAddr string, rxQueues, txQueues int) (Device, error) {
	probe, err := pcidev.Open(pciAddr)
	if err != nil {
		return nil, err
	}

	vendor, err := probe.VendorID()
	if err != nil {
		return nil, fmt.Errorf("ixy: read vendor id of %s: %w", pciAddr, err)
	}

	switch vendor {
	case vendorIntel:
		return ixgbe.Init(l, pciAddr, rxQueues, txQueues)
	case vendorVirtIO:
		return virtio.Init(l, pciAddr)
	default:
		return nil, fmt.Errorf("ixy: %s: unsupported vendor id 0x%04x", pciAddr, vendor)
	}
}
