package virtio

import (
	"testing"
	"time"
)

func newTestTransport() (*LegacyTransport, []byte) {
	bar0 := make([]byte, 64)
	return NewLegacyTransport(bar0), bar0
}

func TestLegacyTransport_StatusBitsOnlyEverAdd(t *testing.T) {
	tr, _ := newTestTransport()

	tr.SetStatus(StatusAcknowledge)
	tr.SetStatus(StatusDriver)

	got := tr.regs.Read8(regDeviceStatus)
	if got != StatusAcknowledge|StatusDriver {
		t.Fatalf("device status = %#x, want %#x", got, StatusAcknowledge|StatusDriver)
	}

	tr.Reset()
	if got := tr.regs.Read8(regDeviceStatus); got != 0 {
		t.Fatalf("device status after Reset = %#x, want 0", got)
	}
}

func TestLegacyTransport_NegotiateFeaturesMasksToDeviceOffer(t *testing.T) {
	tr, _ := newTestTransport()
	tr.regs.Write32(regDeviceFeatures, uint32(FeatureNetMAC|FeatureNetStatus))

	accepted := tr.NegotiateFeatures(FeatureNetMAC | FeatureNetCtrlVQ)
	if accepted != FeatureNetMAC {
		t.Fatalf("NegotiateFeatures = %#x, want FeatureNetMAC only", accepted)
	}
	if got := tr.regs.Read32(regDriverFeatures); got != uint32(FeatureNetMAC) {
		t.Fatalf("driver features register = %#x, want %#x", got, FeatureNetMAC)
	}
}

func TestLegacyTransport_SetQueueAddressRejectsUnalignedAddress(t *testing.T) {
	tr, _ := newTestTransport()
	if err := tr.SetQueueAddress(0x1001); err == nil {
		t.Fatal("SetQueueAddress accepted a non-page-aligned address")
	}
}

func TestLegacyTransport_SetQueueAddressEncodesPageShiftedAddress(t *testing.T) {
	tr, _ := newTestTransport()
	if err := tr.SetQueueAddress(0x2000); err != nil {
		t.Fatalf("SetQueueAddress: %v", err)
	}
	if got := tr.regs.Read32(regQueueAddress); got != 2 {
		t.Fatalf("queue address register = %d, want 2 (0x2000 >> 12)", got)
	}
}

func TestLegacyTransport_WaitQueueReadyTimesOutWhenSizeStaysZero(t *testing.T) {
	tr, _ := newTestTransport()
	if err := tr.WaitQueueReady(5 * time.Millisecond); err == nil {
		t.Fatal("WaitQueueReady returned nil despite queue size staying zero")
	}
}

func TestLegacyTransport_WaitQueueReadySucceedsOnceSizeIsSet(t *testing.T) {
	tr, _ := newTestTransport()
	tr.regs.Write16(regQueueSize, 256)
	if err := tr.WaitQueueReady(5 * time.Millisecond); err != nil {
		t.Fatalf("WaitQueueReady: %v", err)
	}
}

func TestLegacyTransport_MACReadsDeviceConfigBytes(t *testing.T) {
	tr, bar0 := newTestTransport()
	want := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	copy(bar0[netConfigMACOffset:], want[:])

	if got := tr.MAC(); got != want {
		t.Fatalf("MAC() = %v, want %v", got, want)
	}
}
