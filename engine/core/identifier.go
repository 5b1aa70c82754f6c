package core

import (
	"fmt"
	"sync"
)

// IdentifierPool hands out small integer ids and reuses released slots.
// Id 0 is reserved so that a zeroed value never names a live owner.
type IdentifierPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifierPool() *IdentifierPool {
	return &IdentifierPool{
		owners: make([]interface{}, 1, 100),
	}
}

func (p *IdentifierPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 1; i < len(p.owners); i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

func (p *IdentifierPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || int(id) >= len(p.owners) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d)", id, len(p.owners)-1)
	}
	p.owners[id] = nil
	return nil
}

// Owner returns the owner registered under id, or nil.
func (p *IdentifierPool) Owner(id uint32) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id) >= len(p.owners) {
		return nil
	}
	return p.owners[id]
}
