package dma

import (
	"encoding/binary"
	"fmt"
	"os"
)

// pagemapPresentBit marks a pagemap entry as backed by a present physical
// page. See Documentation/admin-guide/mm/pagemap.rst in the kernel source.
const pagemapPresentBit = uint64(1) << 63

// pagemapPFNMask extracts the page frame number, the low 54 bits of a
// pagemap entry.
const pagemapPFNMask = (uint64(1) << 54) - 1

// Translate resolves the physical address backing the page containing vaddr
// by reading /proc/self/pagemap. It fails if the page is not resident.
func Translate(vaddr uintptr) (uint64, error) {
	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return 0, fmt.Errorf("dma: open pagemap: %w", err)
	}
	defer f.Close()

	pageIndex := uint64(vaddr) / pageSize
	offset := int64(pageIndex * pagemapEntrySize)

	var buf [pagemapEntrySize]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("dma: read pagemap at offset %d: %w", offset, err)
	}

	entry := binary.LittleEndian.Uint64(buf[:])
	if entry&pagemapPresentBit == 0 {
		return 0, fmt.Errorf("dma: page containing 0x%x is not present in memory", vaddr)
	}

	pfn := entry & pagemapPFNMask
	pageOffset := uint64(vaddr) % pageSize

	return pfn*pageSize + pageOffset, nil
}
