// Package ixgbe drives Intel 82599-family 10GbE controllers directly from
// userspace: device reset, link bring-up, and the advanced receive/transmit
// descriptor ring protocol.
package ixgbe

// Register offsets below follow the public 82599 datasheet's register map.
// Names are kept close to the datasheet's own mnemonics (GPRC, not
// "good_packets_received_count") since that is how every other userspace
// driver for this chip, and the datasheet itself, refers to them — a
// translated name would just make the code harder to cross-reference.

const (
	// Device-wide control and status.
	regCTRL     = 0x00000
	regCTRLExt  = 0x00018
	regEEC      = 0x10010
	regAUTOC    = 0x042A0
	regAUTOC2   = 0x04324
	regLINKS    = 0x042A4
	regRDRXCTL  = 0x02F00
	regRXCTRL   = 0x03000
	regRXPBSIZE = 0x03C00 // array, one per traffic class 0..7
	regHLREG0   = 0x04240
	regFCTRL    = 0x05080
	regRTTDCS   = 0x04900
	regDMATXCTL = 0x04A80
	regDTXMXSZRQ = 0x08100
	regTXPBSIZE = 0x0CC00 // array, one per traffic class 0..7
	regTXPBTHRESH = 0x04950
	regEIMC     = 0x00888
	regEIMC1    = 0x00AB0
	regGCREXT   = 0x11050

	// Per-queue receive descriptor ring registers. Queue stride is 0x40,
	// base addresses below are for queue 0.
	regRDBAL  = 0x01000
	regRDBAH  = 0x01004
	regRDLEN  = 0x01008
	regRDH    = 0x01010
	regRDT    = 0x01018
	regRXDCTL = 0x01028
	regSRRCTL = 0x02100

	queueStrideRx = 0x40

	// Per-queue transmit descriptor ring registers, same stride.
	regTDBAL  = 0x06000
	regTDBAH  = 0x06004
	regTDLEN  = 0x06008
	regTDH    = 0x06010
	regTDT    = 0x06018
	regTXDCTL = 0x06028

	queueStrideTx = 0x40

	// Rollover-prone hardware traffic counters (cleared on read).
	regGPRC  = 0x04074
	regGPTC  = 0x04080
	regGORCL = 0x04088
	regGORCH = 0x0408C
	regGOTCL = 0x04090
	regGOTCH = 0x04094
)

// queueOffset computes the register address of queue-scoped register base
// for the given queue index and per-queue register stride.
func queueOffset(base uintptr, stride uintptr, queue int) uintptr {
	return base + stride*uintptr(queue)
}

const (
	ctrlLinkReset = 1 << 3
	ctrlRST       = 1 << 26

	ctrlExtDriverLoaded = 1 << 28

	eecARDDone = 1 << 9

	autocLMS10G        = 0x3 << 13
	autocANRestart     = 1 << 12
	autoc10GPMALinkMode = 0x0 << 13

	linksUp = 1 << 30

	rdrxctlDMAIDone = 1 << 3
	rdrxctlCRCStrip = 1 << 1

	rxctrlRXEN = 1 << 0

	hlreg0TXCRCEN   = 1 << 0
	hlreg0RXCRCSTRP = 1 << 1
	hlreg0JumboEN   = 1 << 2

	fctrlBAM = 1 << 10
	fctrlUPE = 1 << 9 // unicast promiscuous
	fctrlMPE = 1 << 8 // multicast promiscuous

	rttdcsARBDIS = 1 << 6

	dmatxctlTE = 1 << 0

	srrctlDescTypeAdvOneBuf = 1 << 25
	srrctlDropEn            = 1 << 28

	rxdctlENABLE = 1 << 25
	txdctlENABLE = 1 << 25

	eimcMask = 0x7FFFFFFF
)
