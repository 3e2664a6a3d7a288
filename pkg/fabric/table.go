package fabric

import (
	"errors"
	"sync"
)

var (
	ErrFabricExists   = errors.New("fabric: fabric already in table")
	ErrFabricNotFound = errors.New("fabric: fabric not found")
)

// Table holds the fabrics a node is commissioned into. All methods are
// safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	fabrics []*Fabric
}

// NewTable returns an empty fabric table.
func NewTable() *Table {
	return &Table{}
}

// Add inserts a fabric. A fabric is identified by its fabric and node
// ID pair; adding a duplicate fails.
func (t *Table) Add(f *Fabric) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.fabrics {
		if existing.FabricID == f.FabricID && existing.NodeID == f.NodeID {
			return ErrFabricExists
		}
	}
	t.fabrics = append(t.fabrics, f)
	return nil
}

// Remove deletes the fabric with the given identity.
func (t *Table) Remove(fabricID, nodeID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, f := range t.fabrics {
		if f.FabricID == fabricID && f.NodeID == nodeID {
			t.fabrics = append(t.fabrics[:i], t.fabrics[i+1:]...)
			return nil
		}
	}
	return ErrFabricNotFound
}

// Find returns the first fabric for which match returns true, or
// ErrFabricNotFound. The candidate search for an incoming handshake
// uses this to traverse all installed identities.
func (t *Table) Find(match func(*Fabric) bool) (*Fabric, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.fabrics {
		if match(f) {
			return f, nil
		}
	}
	return nil, ErrFabricNotFound
}

// Lookup returns the fabric with the given identity.
func (t *Table) Lookup(fabricID, nodeID uint64) (*Fabric, error) {
	return t.Find(func(f *Fabric) bool {
		return f.FabricID == fabricID && f.NodeID == nodeID
	})
}

// Len returns the number of installed fabrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fabrics)
}
