package vulkantest

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

const (
	slotSize  = 8
	arenaSlab = 4096
)

// arena hands out handle addresses from C memory. Vulkan handle types are
// incomplete C structs, so their pointers must never point into the Go heap.
// Slabs are never freed; a test driver lives for one test.
type arena struct {
	slab unsafe.Pointer
	next int
}

func (a *arena) alloc() unsafe.Pointer {
	if a.slab == nil || a.next == arenaSlab {
		a.slab = C.calloc(arenaSlab, slotSize)
		if a.slab == nil {
			panic("vulkantest: out of handle memory")
		}
		a.next = 0
	}
	p := unsafe.Add(a.slab, a.next*slotSize)
	a.next++
	return p
}
