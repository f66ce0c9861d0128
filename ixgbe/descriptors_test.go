package ixgbe

import "testing"

func TestRxDescriptor_ResetSetsAddrAndClearsStatus(t *testing.T) {
	var d rxDescriptor
	d.wbStatusLength = 0xffffffff
	d.reset(0x1234000)

	if d.addr != 0x1234000 {
		t.Fatalf("addr = %#x, want 0x1234000", d.addr)
	}
	if d.status() != 0 {
		t.Fatalf("status() after reset = %#x, want 0", d.status())
	}
}

func TestRxDescriptor_LengthAndStatusFields(t *testing.T) {
	var d rxDescriptor
	d.wbStatusLength = uint32(1500)<<16 | rxStatusDD | rxStatusEOP

	if d.length() != 1500 {
		t.Fatalf("length() = %d, want 1500", d.length())
	}
	if d.status()&rxStatusDD == 0 {
		t.Fatal("status() missing DD bit")
	}
	if d.status()&rxStatusEOP == 0 {
		t.Fatal("status() missing EOP bit")
	}
}

func TestTxDescriptor_SetReadEncodesLengthAndCommandBits(t *testing.T) {
	var d txDescriptor
	d.setRead(0xabc000, 64)

	if d.addr != 0xabc000 {
		t.Fatalf("addr = %#x, want 0xabc000", d.addr)
	}
	if d.cmdTypeLen&0xffff != 64 {
		t.Fatalf("length field = %d, want 64", d.cmdTypeLen&0xffff)
	}
	if d.cmdTypeLen&txCmdEOP == 0 {
		t.Fatal("cmdTypeLen missing EOP")
	}
	if d.done() {
		t.Fatal("freshly set descriptor reports done before the hardware wrote back")
	}
}

func TestTxDescriptor_DoneReflectsStatusBit(t *testing.T) {
	var d txDescriptor
	d.olinfoStatus = txStatusDD
	if !d.done() {
		t.Fatal("done() = false with DD bit set")
	}
}

func TestDescriptorRing_CastsByteSliceInPlace(t *testing.T) {
	mem := make([]byte, 4*descriptorSize)
	ring := rxDescriptorRing(mem, 4)
	if len(ring) != 4 {
		t.Fatalf("ring length = %d, want 4", len(ring))
	}

	ring[1].reset(0xdead)
	if ring[1].addr != 0xdead {
		t.Fatal("writing through the ring did not alias the backing slice")
	}
}
