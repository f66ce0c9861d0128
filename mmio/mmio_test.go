package mmio

import (
	"testing"
	"time"
)

func TestRegion_Read32Write32RoundTrip(t *testing.T) {
	r := New(make([]byte, 16))
	r.Write32(4, 0xdeadbeef)
	if got := r.Read32(4); got != 0xdeadbeef {
		t.Fatalf("Read32(4) = 0x%x, want 0xdeadbeef", got)
	}
}

func TestRegion_Read8Write8RoundTrip(t *testing.T) {
	r := New(make([]byte, 16))
	r.Write8(3, 0xab)
	if got := r.Read8(3); got != 0xab {
		t.Fatalf("Read8(3) = 0x%x, want 0xab", got)
	}
	if got := r.Read8(4); got != 0 {
		t.Fatalf("Read8(4) = 0x%x, want 0 (Write8 must not touch neighboring bytes)", got)
	}
}

func TestRegion_Read16Write16RoundTrip(t *testing.T) {
	r := New(make([]byte, 16))
	r.Write16(2, 0xbeef)
	if got := r.Read16(2); got != 0xbeef {
		t.Fatalf("Read16(2) = 0x%x, want 0xbeef", got)
	}
}

func TestRegion_SetFlagsOnlyTouchesMaskedBits(t *testing.T) {
	r := New(make([]byte, 4))
	r.Write32(0, 0x0000_00f0)
	r.SetFlags(0, 0x0000_000f)
	if got, want := r.Read32(0), uint32(0x0000_00ff); got != want {
		t.Fatalf("Read32(0) after SetFlags = 0x%x, want 0x%x", got, want)
	}
}

func TestRegion_ClearFlagsOnlyTouchesMaskedBits(t *testing.T) {
	r := New(make([]byte, 4))
	r.Write32(0, 0xffff_ffff)
	r.ClearFlags(0, 0x0000_00ff)
	if got, want := r.Read32(0), uint32(0xffff_ff00); got != want {
		t.Fatalf("Read32(0) after ClearFlags = 0x%x, want 0x%x", got, want)
	}
}

func TestRegion_WaitSetReturnsOnceBitAppears(t *testing.T) {
	r := New(make([]byte, 4))
	go func() {
		time.Sleep(2 * pollInterval)
		r.Write32(0, 0x1)
	}()
	if err := r.WaitSet(0, 0x1, time.Second); err != nil {
		t.Fatalf("WaitSet returned error: %v", err)
	}
}

func TestRegion_WaitSetTimesOutWhenBitNeverAppears(t *testing.T) {
	r := New(make([]byte, 4))
	if err := r.WaitSet(0, 0x1, 5*pollInterval); err == nil {
		t.Fatal("WaitSet returned nil error, want a timeout")
	}
}

func TestRegion_WaitClearReturnsOnceBitDisappears(t *testing.T) {
	r := New(make([]byte, 4))
	r.Write32(0, 0x1)
	go func() {
		time.Sleep(2 * pollInterval)
		r.ClearFlags(0, 0x1)
	}()
	if err := r.WaitClear(0, 0x1, time.Second); err != nil {
		t.Fatalf("WaitClear returned error: %v", err)
	}
}

func TestRegion_Read32PanicsOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Read32 past the end of the region did not panic")
		}
	}()
	New(make([]byte, 4)).Read32(2)
}
