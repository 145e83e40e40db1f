package vault

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AllowList is an in-process stand-in for the identity registry.
type AllowList struct {
	mu       sync.RWMutex
	verified map[common.Address]bool
}

// NewAllowList returns an allow-list seeded with addrs.
func NewAllowList(addrs ...common.Address) *AllowList {
	l := &AllowList{verified: make(map[common.Address]bool, len(addrs))}
	for _, a := range addrs {
		l.verified[a] = true
	}
	return l
}

// SetVerified marks addr as verified or not.
func (l *AllowList) SetVerified(addr common.Address, verified bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if verified {
		l.verified[addr] = true
		return
	}
	delete(l.verified, addr)
}

// IsVerified reports whether addr may hold or receive vault positions.
func (l *AllowList) IsVerified(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verified[addr]
}

var _ Verifier = (*AllowList)(nil)
