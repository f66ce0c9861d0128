// Package stats tracks per-device packet/byte counters, folding the
// hardware's rollover-prone latch-on-read registers into monotonically
// increasing 64-bit totals, and exposes them both as a Prometheus collector
// and as a plain-text rate printer.
package stats

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the cumulative packet and byte counts for one device. All
// fields are plain uint64s rather than atomics: a device's hot path runs on
// a single goroutine per queue, and ReadStats is expected to be called from
// that same goroutine or with external synchronization, matching the
// ownership discipline the dma package documents for buffers and pools.
type Stats struct {
	PCIAddr    string
	DriverName string

	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
}

// AddHardwareCounters folds one read of the hardware's latch-and-clear
// counters into the running totals. Because the registers clear to zero on
// read, every value passed in is a delta already and simple addition is
// rollover-safe regardless of how large the cumulative totals grow.
func (s *Stats) AddHardwareCounters(rxPackets, rxBytes, txPackets, txBytes uint64) {
	s.RxPackets += rxPackets
	s.RxBytes += rxBytes
	s.TxPackets += txPackets
	s.TxBytes += txBytes
}

// Diff returns the per-field delta between two snapshots of the same
// device's Stats, e.g. for computing a throughput rate over an interval.
type Diff struct {
	RxPackets uint64
	RxBytes   uint64
	TxPackets uint64
	TxBytes   uint64
}

// Sub returns s minus prev, field by field. Both must describe the same
// device and prev must be an earlier snapshot (its counters must not exceed
// s's, since Stats only ever grows).
func (s *Stats) Sub(prev *Stats) Diff {
	return Diff{
		RxPackets: s.RxPackets - prev.RxPackets,
		RxBytes:   s.RxBytes - prev.RxBytes,
		TxPackets: s.TxPackets - prev.TxPackets,
		TxBytes:   s.TxBytes - prev.TxBytes,
	}
}

// PrintDiff returns a human-readable packet/byte rate line computed from
// the delta between a and b over elapsed wall-clock time.
func PrintDiff(a, b *Stats, elapsed time.Duration) string {
	d := b.Sub(a)
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf(
		"[%s %s] rx: %.2f Mpps %.2f MBit/s, tx: %.2f Mpps %.2f MBit/s",
		b.DriverName, b.PCIAddr,
		float64(d.RxPackets)/seconds/1e6, float64(d.RxBytes)*8/seconds/1e6,
		float64(d.TxPackets)/seconds/1e6, float64(d.TxBytes)*8/seconds/1e6,
	)
}

// descRxPackets and friends are the fixed Prometheus metric descriptors
// shared by every Collector instance; they differ only in their constant
// label values, which Collect fills in per call.
var (
	statsLabelNames = []string{"pci_addr", "driver"}

	descRxPackets = prometheus.NewDesc("ixy_rx_packets_total", "Total received packets.", statsLabelNames, nil)
	descRxBytes   = prometheus.NewDesc("ixy_rx_bytes_total", "Total received bytes.", statsLabelNames, nil)
	descTxPackets = prometheus.NewDesc("ixy_tx_packets_total", "Total transmitted packets.", statsLabelNames, nil)
	descTxBytes   = prometheus.NewDesc("ixy_tx_bytes_total", "Total transmitted bytes.", statsLabelNames, nil)
)

// Collector adapts a Stats snapshot function to the prometheus.Collector
// interface, scraping the latest values whenever Prometheus asks for them.
type Collector struct {
	snapshot func() Stats
}

// NewCollector wraps snapshot, a function returning a consistent point in
// time copy of a device's Stats, as a prometheus.Collector.
func NewCollector(snapshot func() Stats) *Collector {
	return &Collector{snapshot: snapshot}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRxPackets
	ch <- descRxBytes
	ch <- descTxPackets
	ch <- descTxBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	ch <- prometheus.MustNewConstMetric(descRxPackets, prometheus.CounterValue, float64(s.RxPackets), s.PCIAddr, s.DriverName)
	ch <- prometheus.MustNewConstMetric(descRxBytes, prometheus.CounterValue, float64(s.RxBytes), s.PCIAddr, s.DriverName)
	ch <- prometheus.MustNewConstMetric(descTxPackets, prometheus.CounterValue, float64(s.TxPackets), s.PCIAddr, s.DriverName)
	ch <- prometheus.MustNewConstMetric(descTxBytes, prometheus.CounterValue, float64(s.TxBytes), s.PCIAddr, s.DriverName)
}
