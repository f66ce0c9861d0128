// Command ixy-pktgen generates a synthetic UDP packet stream and
// transmits it as fast as the given device accepts it, printing a
// throughput line once per second until interrupted.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ixy-go/ixy"
	"github.com/ixy-go/ixy/config"
	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/stats"
	"github.com/ixy-go/ixy/util"
)

const batchSize = 64

// packetTemplate is a minimal Ethernet/IPv4/UDP frame; only the 4-byte
// sequence number that follows the payload's "ixy" prefix varies between
// packets.
var packetTemplate = []byte{
	// dst mac
	0x02, 0x00, 0x00, 0x00, 0x00, 0x01,
	// src mac
	0x02, 0x00, 0x00, 0x00, 0x00, 0x02,
	// ethertype: IPv4
	0x08, 0x00,
	// IPv4 header
	0x45, 0x00, 0x00, 0x2e, 0x00, 0x00, 0x00, 0x00, 0x40, 0x11, 0x00, 0x00,
	0x0a, 0x00, 0x00, 0x01, 0x0a, 0x00, 0x00, 0x02,
	// UDP header: src 42, dst 1337, length 26, checksum 0 (disabled)
	0x00, 0x2a, 0x05, 0x39, 0x00, 0x1a, 0x00, 0x00,
	// payload: "ixy" + 4-byte sequence number + padding
	'i', 'x', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const seqOffset = 45

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (its first device overrides the PCI address and queue-count flags)")
	count := flag.Uint64("count", 0, "Number of packets to send before exiting; 0 means run until interrupted")
	seqStart := flag.Uint64("seq-offset", 0, "Initial value of the per-packet sequence number")
	rxQueues := flag.Int("rx-queues", 1, "Number of receive queues to bring up (unused by pktgen, kept for device symmetry)")
	txQueues := flag.Int("tx-queues", 1, "Number of transmit queues to bring up")
	flag.Parse()

	l := logrus.New()
	l.Out = os.Stdout

	pciAddr := flag.Arg(0)
	if *configPath != "" {
		c := config.NewC(l)
		if err := c.Load(*configPath); err != nil {
			util.Fatal(l, fmt.Errorf("load config: %w", err))
		}
		if configs := c.DeviceConfigs(); len(configs) > 0 {
			pciAddr = configs[0].PCIAddress
			*rxQueues = configs[0].RxQueues
			*txQueues = configs[0].TxQueues
		}
	}
	if pciAddr == "" {
		fmt.Fprintln(os.Stderr, "usage: ixy-pktgen [flags] <pci-address>")
		flag.Usage()
		os.Exit(1)
	}

	dev, err := ixy.Init(l, pciAddr, *rxQueues, *txQueues)
	if err != nil {
		util.Fatal(l, fmt.Errorf("init device %s: %w", pciAddr, err))
	}
	defer dev.Close()

	pool, err := dma.NewMempool(4*batchSize, dma.DefaultBufferSize)
	if err != nil {
		util.Fatal(l, fmt.Errorf("allocate packet pool: %w", err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	bufs := make([]*dma.PacketBuffer, batchSize)
	seq := *seqStart
	var sent uint64

	var prevStats, curStats stats.Stats
	dev.ReadStats(&prevStats)
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()
	lastPrint := time.Now()

	l.Infof("ixy-pktgen: sending on %s (%s)", pciAddr, dev.DriverName())

	for *count == 0 || sent < *count {
		select {
		case <-sigCh:
			goto done
		case <-statsTicker.C:
			dev.ReadStats(&curStats)
			fmt.Println(stats.PrintDiff(&prevStats, &curStats, time.Since(lastPrint)))
			prevStats = curStats
			lastPrint = time.Now()
		default:
		}

		n := pool.AllocBatch(bufs)
		for i := 0; i < n; i++ {
			buf := bufs[i]
			buf.SetSize(uint32(len(packetTemplate)))
			copy(buf.Data, packetTemplate)
			binary.BigEndian.PutUint32(buf.Data[seqOffset:], uint32(seq))
			seq++
		}

		txN := dev.TxBatch(0, bufs[:n])
		sent += uint64(txN)
		for i := txN; i < n; i++ {
			bufs[i].Free()
		}
	}

done:
	dev.ReadStats(&curStats)
	fmt.Println(stats.PrintDiff(&prevStats, &curStats, time.Since(lastPrint)))
	l.Infof("ixy-pktgen: sent %d packets, exiting", sent)
}
