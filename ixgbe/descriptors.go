package ixgbe

import "unsafe"

// rxDescriptor is the 16-byte advanced receive descriptor. Before the
// hardware owns it, only addr is meaningful (the physical address of the
// packet buffer's data area); once the hardware has written the result back
// it reinterprets the same 16 bytes as length/status fields, aliased here
// through wbStatusLength and wbInfo.
type rxDescriptor struct {
	addr       uint64
	wbInfo     uint32
	wbStatusLength uint32
}

const (
	rxStatusDD  = 1 << 0 // descriptor done: hardware has written this slot back
	rxStatusEOP = 1 << 1 // end of packet
)

func (d *rxDescriptor) length() uint16 {
	return uint16(d.wbStatusLength >> 16)
}

func (d *rxDescriptor) status() uint32 {
	return d.wbStatusLength & 0xffff
}

func (d *rxDescriptor) reset(physAddr uint64) {
	d.addr = physAddr
	d.wbInfo = 0
	d.wbStatusLength = 0
}

// txDescriptor is the 16-byte advanced transmit descriptor in its read
// (driver-supplied) layout.
type txDescriptor struct {
	addr          uint64
	cmdTypeLen    uint32
	olinfoStatus  uint32
}

const (
	txDescTypeData = 0x3 << 20 // DTYP advanced data descriptor

	txCmdEOP  = 1 << 24 // end of packet
	txCmdIFCS = 1 << 25 // insert FCS
	txCmdRS   = 1 << 27 // report status: hardware sets DD once transmitted
	txCmdDEXT = 1 << 29 // descriptor extension (advanced format)

	txStatusDD = 1 << 0
)

func (d *txDescriptor) setRead(physAddr uint64, length uint32) {
	d.addr = physAddr
	d.cmdTypeLen = txDescTypeData | txCmdEOP | txCmdIFCS | txCmdRS | txCmdDEXT | length
	d.olinfoStatus = length << 14
}

func (d *txDescriptor) done() bool {
	return d.olinfoStatus&txStatusDD != 0
}

// rxDescriptorRing casts a raw DMA-backed byte slice to a slice of
// rxDescriptor, matching the descriptor-table-over-bytes idiom used for
// virtio's descriptor table.
func rxDescriptorRing(mem []byte, count int) []rxDescriptor {
	return unsafe.Slice((*rxDescriptor)(unsafe.Pointer(&mem[0])), count)
}

func txDescriptorRing(mem []byte, count int) []txDescriptor {
	return unsafe.Slice((*txDescriptor)(unsafe.Pointer(&mem[0])), count)
}

const descriptorSize = 16
