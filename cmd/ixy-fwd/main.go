// Command ixy-fwd reads packets off one device and retransmits them on a
// second, optionally swapping Ethernet source/destination first — the
// classic ixy two-port forwarding demo.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ixy-go/ixy"
	"github.com/ixy-go/ixy/dma"
	"github.com/ixy-go/ixy/stats"
	"github.com/ixy-go/ixy/util"
)

const batchSize = 64

func main() {
	swapMAC := flag.Bool("swap-mac", false, "Swap Ethernet source/destination addresses before forwarding")
	rxQueues := flag.Int("rx-queues", 1, "Number of receive queues to bring up on each device")
	txQueues := flag.Int("tx-queues", 1, "Number of transmit queues to bring up on each device")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: ixy-fwd [flags] <pci-address-1> <pci-address-2>")
		flag.Usage()
		os.Exit(1)
	}
	addrs := [2]string{flag.Arg(0), flag.Arg(1)}

	l := logrus.New()
	l.Out = os.Stdout

	devs := [2]ixy.Device{}
	for i, addr := range addrs {
		dev, err := ixy.Init(l, addr, *rxQueues, *txQueues)
		if err != nil {
			util.Fatal(l, fmt.Errorf("init device %s: %w", addr, err))
		}
		devs[i] = dev
	}
	defer devs[0].Close()
	defer devs[1].Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var bufs [2][batchSize]*dma.PacketBuffer
	var prevStats, curStats [2]stats.Stats
	devs[0].ReadStats(&prevStats[0])
	devs[1].ReadStats(&prevStats[1])
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()
	lastPrint := time.Now()

	l.Infof("ixy-fwd: forwarding between %s (%s) and %s (%s)",
		addrs[0], devs[0].DriverName(), addrs[1], devs[1].DriverName())

	for {
		select {
		case <-sigCh:
			devs[0].ReadStats(&curStats[0])
			devs[1].ReadStats(&curStats[1])
			fmt.Println(stats.PrintDiff(&prevStats[0], &curStats[0], time.Since(lastPrint)))
			fmt.Println(stats.PrintDiff(&prevStats[1], &curStats[1], time.Since(lastPrint)))
			return
		case <-statsTicker.C:
			devs[0].ReadStats(&curStats[0])
			devs[1].ReadStats(&curStats[1])
			fmt.Println(stats.PrintDiff(&prevStats[0], &curStats[0], time.Since(lastPrint)))
			fmt.Println(stats.PrintDiff(&prevStats[1], &curStats[1], time.Since(lastPrint)))
			prevStats = curStats
			lastPrint = time.Now()
		default:
		}

		forward(devs[0], devs[1], bufs[0][:], *swapMAC)
		forward(devs[1], devs[0], bufs[1][:], *swapMAC)
	}
}

// forward moves one batch of packets from src's receive queue to dst's
// transmit queue, freeing any that dst's ring could not accept.
func forward(src, dst ixy.Device, bufs []*dma.PacketBuffer, swapMAC bool) {
	n := src.RxBatch(0, bufs)
	if n == 0 {
		return
	}

	if swapMAC {
		for i := 0; i < n; i++ {
			swapEthernetAddrs(bufs[i].Data)
		}
	}

	sent := dst.TxBatch(0, bufs[:n])
	for i := sent; i < n; i++ {
		bufs[i].Free()
	}
}

// swapEthernetAddrs exchanges the 6-byte destination and source MAC
// addresses at the front of an Ethernet frame, in place.
func swapEthernetAddrs(frame []byte) {
	if len(frame) < 12 {
		return
	}
	var tmp [6]byte
	copy(tmp[:], frame[0:6])
	copy(frame[0:6], frame[6:12])
	copy(frame[6:12], tmp[:])
}
