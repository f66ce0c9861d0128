// Package dma implements hugepage-backed DMA memory allocation, physical
// address translation via the kernel pagemap, and a fixed-size packet-buffer
// pool with single-producer/single-consumer discipline per queue.
package dma

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// HugepageSize is the size of one 2 MiB hugepage, as configured via
// /proc/sys/vm/nr_hugepages.
const HugepageSize = 2 * 1024 * 1024

// pageSize is the size of a regular (non-huge) memory page, used when
// walking /proc/self/pagemap.
const pageSize = 4096

// pagemapEntrySize is the number of bytes /proc/self/pagemap uses per page.
const pagemapEntrySize = 8

// ErrContiguityRequired is returned by Allocate when a caller demands
// physically contiguous memory larger than a single hugepage.
var ErrContiguityRequired = errors.New("dma: contiguous allocation exceeds one hugepage")

// HugepagePath is the mount point of the hugetlbfs filesystem used for DMA
// allocations. It may be overridden before the first call to Allocate.
var HugepagePath = "/mnt/huge"

var hugepageFileCounter uint64

// Memory describes one hugepage-backed DMA allocation.
type Memory struct {
	Virt []byte
	Phys uint64
	Size int
}

// Allocate reserves size bytes of hugepage-backed memory. When contiguous is
// true, size must not exceed one hugepage, since the kernel offers no
// guarantee of physical contiguity across hugepage boundaries.
//
// The returned Memory's Virt slice is locked in physical memory (mmap with
// MAP_LOCKED-equivalent semantics via hugetlbfs) and its Phys field holds the
// physical address of Virt[0], resolved via the pagemap.
func Allocate(size int, contiguous bool) (*Memory, error) {
	if contiguous && size > HugepageSize {
		return nil, fmt.Errorf("%w: requested %d bytes, hugepage is %d bytes", ErrContiguityRequired, size, HugepageSize)
	}

	id := atomic.AddUint64(&hugepageFileCounter, 1)
	path := fmt.Sprintf("%s/ixy-%d-%d", HugepagePath, os.Getpid(), id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("dma: open hugepage file %s: %w", path, err)
	}
	defer f.Close()
	defer os.Remove(path)

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("dma: extend hugepage file to %d bytes: %w", size, err)
	}

	virt, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("dma: mmap hugepage file: %w", err)
	}

	if err := unix.Mlock(virt); err != nil {
		_ = unix.Munmap(virt)
		return nil, fmt.Errorf("dma: mlock hugepage mapping: %w", err)
	}

	phys, err := Translate(uintptr(unsafe.Pointer(&virt[0])))
	if err != nil {
		_ = unix.Munmap(virt)
		return nil, fmt.Errorf("dma: translate hugepage mapping: %w", err)
	}

	return &Memory{Virt: virt, Phys: phys, Size: size}, nil
}

// unmapMemory releases a DMA allocation's virtual memory mapping.
func unmapMemory(m *Memory) error {
	if m == nil || m.Virt == nil {
		return nil
	}
	if err := unix.Munlock(m.Virt); err != nil {
		return fmt.Errorf("dma: munlock: %w", err)
	}
	if err := unix.Munmap(m.Virt); err != nil {
		return fmt.Errorf("dma: munmap: %w", err)
	}
	m.Virt = nil
	return nil
}

// Release unmaps and unlocks this allocation's backing memory. Callers that
// obtained a *Memory directly from Allocate (rather than through a Mempool,
// which manages this for them) must call Release once the memory is no
// longer in use.
func (m *Memory) Release() error {
	return unmapMemory(m)
}
