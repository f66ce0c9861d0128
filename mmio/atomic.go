package mmio

import "sync/atomic"

func atomicLoad32(p *uint32) uint32 {
	return atomic.LoadUint32(p)
}

func atomicStore32(p *uint32, v uint32) {
	atomic.StoreUint32(p, v)
}
