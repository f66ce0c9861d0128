package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStats_AddHardwareCountersAccumulates(t *testing.T) {
	var s Stats
	s.AddHardwareCounters(10, 1500, 5, 750)
	s.AddHardwareCounters(3, 450, 1, 150)

	if s.RxPackets != 13 || s.RxBytes != 1950 {
		t.Fatalf("rx totals = %d/%d, want 13/1950", s.RxPackets, s.RxBytes)
	}
	if s.TxPackets != 6 || s.TxBytes != 900 {
		t.Fatalf("tx totals = %d/%d, want 6/900", s.TxPackets, s.TxBytes)
	}
}

func TestStats_SubComputesDelta(t *testing.T) {
	a := Stats{RxPackets: 100, RxBytes: 15000, TxPackets: 50, TxBytes: 7500}
	b := Stats{RxPackets: 150, RxBytes: 22500, TxPackets: 80, TxBytes: 12000}

	d := b.Sub(&a)
	if d.RxPackets != 50 || d.TxPackets != 30 {
		t.Fatalf("Sub() = %+v, want RxPackets=50 TxPackets=30", d)
	}
}

func TestPrintDiff_IncludesDeviceIdentity(t *testing.T) {
	a := Stats{PCIAddr: "0000:01:00.0", DriverName: "ixgbe"}
	b := Stats{PCIAddr: "0000:01:00.0", DriverName: "ixgbe", RxPackets: 1000, RxBytes: 64000}

	line := PrintDiff(&a, &b, time.Second)
	if line == "" {
		t.Fatal("PrintDiff returned an empty string")
	}
	if !strings.Contains(line, "0000:01:00.0") || !strings.Contains(line, "ixgbe") {
		t.Fatalf("PrintDiff line %q does not name the device's PCI address and driver", line)
	}
}

func TestCollector_DescribeEmitsFourDescriptors(t *testing.T) {
	c := NewCollector(func() Stats { return Stats{} })

	ch := make(chan *prometheus.Desc, 8)
	c.Describe(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	if n != 4 {
		t.Fatalf("Describe emitted %d descriptors, want 4", n)
	}
}

func TestCollector_CollectEmitsFourMetrics(t *testing.T) {
	c := NewCollector(func() Stats {
		return Stats{PCIAddr: "0000:01:00.0", DriverName: "ixgbe", RxPackets: 5}
	})

	ch := make(chan prometheus.Metric, 8)
	c.Collect(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	if n != 4 {
		t.Fatalf("Collect emitted %d metrics, want 4", n)
	}
}
