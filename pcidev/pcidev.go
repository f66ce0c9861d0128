// Package pcidev implements the PCI access layer: reading configuration
// space via sysfs, unbinding the in-kernel driver, enabling bus-master DMA
// and mapping a device's base address register for MMIO access.
package pcidev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"regexp"

	"golang.org/x/sys/unix"
)

// ErrNotANIC is returned by RequireClass when a device's class code does not
// identify a network controller.
var ErrNotANIC = errors.New("not a NIC")

// commandBusMaster is bit 2 of the PCI command register (offset 4).
const commandBusMaster = 1 << 2

var addrPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-9a-fA-F]$`)

// Device is a handle to a PCI function identified by its bus address
// (DDDD:BB:DD.F).
type Device struct {
	Addr string
	dir  string
}

// Open validates addr and returns a handle to the device's sysfs directory.
// It performs no I/O beyond checking that the directory exists.
func Open(addr string) (*Device, error) {
	if !addrPattern.MatchString(addr) {
		return nil, fmt.Errorf("pcidev: %q is not a PCI address of the form DDDD:BB:DD.F", addr)
	}

	dir := "/sys/bus/pci/devices/" + addr
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("pcidev: open %s: %w", addr, err)
	}

	return &Device{Addr: addr, dir: dir}, nil
}

// configWord reads 4 bytes from configuration space at the given offset.
func (d *Device) configWord(offset int64) (uint32, error) {
	f, err := os.OpenFile(d.dir+"/config", os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("pcidev: open config space: %w", err)
	}
	defer f.Close()

	var buf [4]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("pcidev: read config space at %d: %w", offset, err)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// VendorID reads the 16-bit vendor ID at configuration offset 0.
func (d *Device) VendorID() (uint16, error) {
	w, err := d.configWord(0)
	if err != nil {
		return 0, err
	}
	return uint16(w), nil
}

// DeviceID reads the 16-bit device ID at configuration offset 0 (upper half).
func (d *Device) DeviceID() (uint16, error) {
	w, err := d.configWord(0)
	if err != nil {
		return 0, err
	}
	return uint16(w >> 16), nil
}

// ClassCode reads the base class byte of the class code at configuration
// offset 8 (top byte of the 32-bit word).
func (d *Device) ClassCode() (uint8, error) {
	w, err := d.configWord(8)
	if err != nil {
		return 0, err
	}
	return uint8(w >> 24), nil
}

// RequireClass returns ErrNotANIC when the device's class code does not
// match class. Class 0x02 identifies a network controller.
func RequireClass(d *Device, class uint8) error {
	got, err := d.ClassCode()
	if err != nil {
		return err
	}
	if got != class {
		return fmt.Errorf("pcidev: %s has class 0x%02x, want 0x%02x: %w", d.Addr, got, class, ErrNotANIC)
	}
	return nil
}

// Unbind detaches the in-kernel driver currently bound to the device, if
// any. It silently succeeds when no driver is bound.
func (d *Device) Unbind() error {
	path := d.dir + "/driver/unbind"
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			// No driver bound.
			return nil
		}
		return fmt.Errorf("pcidev: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(d.Addr); err != nil {
		return fmt.Errorf("pcidev: unbind %s: %w", d.Addr, err)
	}
	return nil
}

// EnableDMA sets the Bus Master Enable bit in the PCI command register.
func (d *Device) EnableDMA() error {
	f, err := os.OpenFile(d.dir+"/config", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("pcidev: open config space for write: %w", err)
	}
	defer f.Close()

	var buf [2]byte
	if _, err := f.ReadAt(buf[:], 4); err != nil {
		return fmt.Errorf("pcidev: read command register: %w", err)
	}

	command := binary.LittleEndian.Uint16(buf[:])
	command |= commandBusMaster
	binary.LittleEndian.PutUint16(buf[:], command)

	if _, err := f.WriteAt(buf[:], 4); err != nil {
		return fmt.Errorf("pcidev: write command register: %w", err)
	}
	return nil
}

// MapResource unbinds any in-kernel driver, enables bus-master DMA, then
// memory-maps the given BAR (0 for BAR0) read/write shared and returns the
// mapped region.
func (d *Device) MapResource(barIndex int) ([]byte, error) {
	if err := d.Unbind(); err != nil {
		return nil, fmt.Errorf("pcidev: unbind: %w", err)
	}
	if err := d.EnableDMA(); err != nil {
		return nil, fmt.Errorf("pcidev: enable DMA: %w", err)
	}

	path := fmt.Sprintf("%s/resource%d", d.dir, barIndex)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("pcidev: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pcidev: stat %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pcidev: mmap %s: %w", path, err)
	}

	return mem, nil
}
