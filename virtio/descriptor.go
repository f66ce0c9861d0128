package virtio

// descriptorFlag is a flag that describes a Descriptor.
type descriptorFlag uint16

const (
	// descriptorFlagHasNext marks a descriptor chain as continuing via the
	// next field.
	descriptorFlagHasNext descriptorFlag = 1 << iota
	// descriptorFlagWritable marks a buffer as device write-only (otherwise
	// device read-only).
	descriptorFlagWritable
	// descriptorFlagIndirect means the buffer contains a list of buffer
	// descriptors to provide an additional layer of indirection. Only
	// allowed when FeatureIndirectDescriptors was negotiated.
	descriptorFlagIndirect
)

// descriptorSize is the number of bytes needed to store a Descriptor in
// memory.
const descriptorSize = 16

// Descriptor describes (a part of) a buffer which is either read-only for
// the device or write-only for the device, depending on
// descriptorFlagWritable. Multiple descriptors can be chained to produce a
// descriptor chain mixing device-readable and device-writable buffers;
// device-readable descriptors always come first in a chain.
//
// physAddr holds the bus address the hardware DMA engine reads or writes,
// not a Go virtual address — unlike an in-kernel vhost transport, real NIC
// hardware cannot follow a process's page tables. Resolving a descriptor
// back to a byte slice requires DescriptorTable's virtual/physical base
// pair.
type Descriptor struct {
	physAddr uint64
	length   uint32
	flags    descriptorFlag
	next     uint16
}
