package ixgbe

import (
	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/mmio"
)

// newFakeRegion wraps a plain Go byte slice as an mmio.Region, standing in
// for a real BAR0 mapping so the queue-management logic above the register
// layer can be tested without a physical NIC.
func newFakeRegion(size int) *mmio.Region {
	return mmio.New(make([]byte, size))
}

// fakeBuffer returns a standalone packet buffer suitable for feeding into
// TxBatch in tests, where no real mempool or hugepage-backed memory is
// available.
func fakeBuffer() *dma.PacketBuffer {
	buf := dma.NewStandaloneBuffer(make([]byte, 64), 0x2000)
	buf.SetSize(64)
	return buf
}
