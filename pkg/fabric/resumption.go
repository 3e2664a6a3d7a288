package fabric

import (
	"errors"
	"sync"

	"github.com/opmesh/casekit/pkg/crypto"
)

// ResumptionIDSize is the size of a session resumption identifier.
const ResumptionIDSize = 16

var ErrResumptionNotFound = errors.New("fabric: resumption record not found")

// ResumptionRecord caches the outcome of an established session so a
// later handshake with the same peer can take the abbreviated path.
type ResumptionRecord struct {
	ResumptionID [ResumptionIDSize]byte

	// SharedSecret is the ECDH secret of the session the record was
	// minted from. The store owns it and wipes it on eviction.
	SharedSecret *crypto.SecretBuffer

	FabricID   uint64
	PeerNodeID uint64
}

// ResumptionStore holds resumption records, addressable both by
// resumption ID (responder side) and by peer identity (initiator
// side). A peer has at most one record; saving a newer one evicts and
// wipes the old. All methods are safe for concurrent use.
type ResumptionStore struct {
	mu      sync.Mutex
	records []*ResumptionRecord
}

// NewResumptionStore returns an empty store.
func NewResumptionStore() *ResumptionStore {
	return &ResumptionStore{}
}

// Save inserts a record, replacing any existing record for the same
// peer. The store takes ownership of the record's shared secret.
func (s *ResumptionStore) Save(rec *ResumptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, old := range s.records {
		if old.FabricID == rec.FabricID && old.PeerNodeID == rec.PeerNodeID {
			old.SharedSecret.Wipe()
			s.records[i] = rec
			return
		}
	}
	s.records = append(s.records, rec)
}

// FindByID returns the record with the given resumption ID.
func (s *ResumptionStore) FindByID(resumptionID [ResumptionIDSize]byte) (*ResumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ResumptionID == resumptionID {
			return rec, nil
		}
	}
	return nil, ErrResumptionNotFound
}

// FindByPeer returns the record for the given peer identity.
func (s *ResumptionStore) FindByPeer(fabricID, peerNodeID uint64) (*ResumptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.FabricID == fabricID && rec.PeerNodeID == peerNodeID {
			return rec, nil
		}
	}
	return nil, ErrResumptionNotFound
}

// Delete removes and wipes the record with the given resumption ID.
func (s *ResumptionStore) Delete(resumptionID [ResumptionIDSize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.ResumptionID == resumptionID {
			rec.SharedSecret.Wipe()
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return ErrResumptionNotFound
}

// Clear removes and wipes every record.
func (s *ResumptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		rec.SharedSecret.Wipe()
	}
	s.records = nil
}

// Len returns the number of stored records.
func (s *ResumptionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
