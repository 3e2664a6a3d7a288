package casesession

import (
	"encoding/binary"

	"github.com/opmesh/casekit/pkg/crypto"
	"github.com/opmesh/casekit/pkg/fabric"
)

// ComputeDestinationID derives the opaque identifier the initiator uses to
// address a node without naming it on the wire. Only a peer holding the same
// identity key can reproduce it.
func ComputeDestinationID(ipk []byte, initiatorRandom [RandomSize]byte, rootPublicKey [crypto.PublicKeySize]byte, fabricID, nodeID uint64) [DestinationIDSize]byte {
	msg := make([]byte, 0, RandomSize+crypto.PublicKeySize+16)
	msg = append(msg, initiatorRandom[:]...)
	msg = append(msg, rootPublicKey[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, fabricID)
	msg = binary.LittleEndian.AppendUint64(msg, nodeID)
	return crypto.HMACSHA256(ipk, msg)
}

// MatchDestinationID reports whether a received destination identifier was
// computed for the given identity, in constant time.
func MatchDestinationID(destinationID [DestinationIDSize]byte, ipk []byte, initiatorRandom [RandomSize]byte, rootPublicKey [crypto.PublicKeySize]byte, fabricID, nodeID uint64) bool {
	candidate := ComputeDestinationID(ipk, initiatorRandom, rootPublicKey, fabricID, nodeID)
	return crypto.HMACEqual(destinationID[:], candidate[:])
}

// FindFabricByDestinationID scans the local fabric table for the identity a
// Sigma1 destination identifier addresses. It returns the fabric and its
// identity protection key, or ErrNoSharedRoot when nothing matches.
func FindFabricByDestinationID(table *fabric.Table, destinationID [DestinationIDSize]byte, initiatorRandom [RandomSize]byte) (*fabric.Fabric, []byte, error) {
	var (
		matched *fabric.Fabric
		ipk     []byte
	)
	_, err := table.Find(func(f *fabric.Fabric) bool {
		key, err := f.IPK()
		if err != nil {
			return false
		}
		if !MatchDestinationID(destinationID, key, initiatorRandom, f.RootPublicKey, f.FabricID, f.NodeID) {
			crypto.ZeroBytes(key)
			return false
		}
		matched = f
		ipk = key
		return true
	})
	if err != nil {
		return nil, nil, ErrNoSharedRoot
	}
	return matched, ipk, nil
}
