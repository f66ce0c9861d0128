package config

import (
	"testing"

	"github.com/ixy-go/ixy/util"
)

func TestDeviceConfigs_FallsBackToSingleDeviceFromPCIAddress(t *testing.T) {
	c := NewC(util.NewTestLogger())
	if err := c.LoadString(`
device:
  pci_address: "0000:01:00.0"
  rx_queues: 2
  tx_queues: 3
`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	got := c.DeviceConfigs()
	if len(got) != 1 {
		t.Fatalf("DeviceConfigs() returned %d entries, want 1", len(got))
	}
	want := DeviceConfig{PCIAddress: "0000:01:00.0", RxQueues: 2, TxQueues: 3}
	if got[0] != want {
		t.Fatalf("DeviceConfigs()[0] = %+v, want %+v", got[0], want)
	}
}

func TestDeviceConfigs_ReturnsNilWhenNoDeviceConfigured(t *testing.T) {
	c := NewC(util.NewTestLogger())
	if err := c.LoadString(`device: {}`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	if got := c.DeviceConfigs(); got != nil {
		t.Fatalf("DeviceConfigs() = %+v, want nil", got)
	}
}

func TestDeviceConfigs_ReadsMultipleInterfacesWithDefaultedQueueCounts(t *testing.T) {
	c := NewC(util.NewTestLogger())
	if err := c.LoadString(`
device:
  interfaces:
    - pci_address: "0000:01:00.0"
      rx_queues: 4
      tx_queues: 4
    - pci_address: "0000:02:00.0"
`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	got := c.DeviceConfigs()
	if len(got) != 2 {
		t.Fatalf("DeviceConfigs() returned %d entries, want 2", len(got))
	}
	if got[0] != (DeviceConfig{PCIAddress: "0000:01:00.0", RxQueues: 4, TxQueues: 4}) {
		t.Fatalf("DeviceConfigs()[0] = %+v", got[0])
	}
	if got[1] != (DeviceConfig{PCIAddress: "0000:02:00.0", RxQueues: 1, TxQueues: 1}) {
		t.Fatalf("DeviceConfigs()[1] = %+v, want defaulted queue counts", got[1])
	}
}
