package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned when a store has no record for a key.
var ErrNotFound = errors.New("oracle: record not found")

// Record is the latest accepted value for one key and the report timestamp
// (unix seconds) it was accepted with.
type Record struct {
	Value     *big.Int
	Timestamp uint64
}

func (r Record) clone() Record {
	out := Record{Timestamp: r.Timestamp}
	if r.Value != nil {
		out.Value = new(big.Int).Set(r.Value)
	}
	return out
}

// Update is one accepted report, applied to both stores as a unit.
type Update struct {
	PoolID    common.Hash
	AssetID   common.Hash
	NAV       *big.Int
	Reserve   *big.Int
	Timestamp uint64
	ReportID  common.Hash
	Source    string
}

// Registry holds the NAV store (keyed by pool id) and the PoR store (keyed
// by asset id). Each key has exactly one record; Commit overwrites both
// records atomically or neither.
type Registry interface {
	LatestNav(ctx context.Context, poolID common.Hash) (Record, error)
	LatestReserve(ctx context.Context, assetID common.Hash) (Record, error)
	Commit(ctx context.Context, u Update) error
}

// store is a single-slot-per-key registry with last-write-wins semantics.
type store struct {
	name    string
	records map[common.Hash]Record
}

func newStore(name string) store {
	return store{name: name, records: make(map[common.Hash]Record)}
}

func (s store) get(key common.Hash) (Record, error) {
	rec, ok := s.records[key]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s %s", ErrNotFound, s.name, key.Hex())
	}
	return rec.clone(), nil
}

func (s store) set(key common.Hash, rec Record) {
	s.records[key] = rec.clone()
}

// MemoryRegistry keeps both stores in process behind one mutex.
type MemoryRegistry struct {
	mu  sync.RWMutex
	nav store
	por store
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{nav: newStore("nav"), por: newStore("por")}
}

// LatestNav returns the NAV record for poolID.
func (m *MemoryRegistry) LatestNav(ctx context.Context, poolID common.Hash) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nav.get(poolID)
}

// LatestReserve returns the PoR record for assetID.
func (m *MemoryRegistry) LatestReserve(ctx context.Context, assetID common.Hash) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.por.get(assetID)
}

// Commit writes (nav, ts) and (reserve, ts) under a single lock hold.
func (m *MemoryRegistry) Commit(ctx context.Context, u Update) error {
	if u.NAV == nil || u.Reserve == nil {
		return errors.New("oracle: update missing values")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nav.set(u.PoolID, Record{Value: u.NAV, Timestamp: u.Timestamp})
	m.por.set(u.AssetID, Record{Value: u.Reserve, Timestamp: u.Timestamp})
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
