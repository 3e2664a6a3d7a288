// Package fabric stores the operational identities a node holds, one
// per fabric it is commissioned into, together with the resumption
// records of previously established sessions.
package fabric

import (
	"errors"
	"fmt"

	"github.com/opmesh/casekit/pkg/crypto"
)

// Sizes of identity material carried by a fabric record.
const (
	RootPublicKeySize = crypto.PublicKeySize
	EpochKeySize      = crypto.SymmetricKeySize
)

var (
	ErrInvalidEpochKey = errors.New("fabric: invalid epoch key length")
	ErrMissingNOC      = errors.New("fabric: missing node operational certificate")
	ErrMissingKeyPair  = errors.New("fabric: missing operational key pair")
)

// Fabric is one operational identity: the credentials and keys this
// node uses when authenticating as a member of a single fabric.
type Fabric struct {
	FabricID uint64
	NodeID   uint64

	// RootPublicKey is the 65-byte uncompressed P-256 public key of the
	// fabric's root CA.
	RootPublicKey [RootPublicKeySize]byte

	// CompressedFabricID scopes group key derivation to this fabric.
	CompressedFabricID [crypto.CompressedFabricIDSize]byte

	// EpochKey is the identity protection epoch key distributed at
	// commissioning. The operational IPK is derived from it on demand.
	EpochKey [EpochKeySize]byte

	// NOC and ICAC are the operational certificate chain presented to
	// peers during session establishment. ICAC is nil when the chain
	// has no intermediate.
	NOC  []byte
	ICAC []byte

	// KeyPair is the operational key whose public key the NOC certifies.
	KeyPair *crypto.KeyPair
}

// New validates and copies the provided identity material into a
// Fabric record.
func New(fabricID, nodeID uint64, rootPublicKey []byte, compressedFabricID [crypto.CompressedFabricIDSize]byte,
	epochKey []byte, noc, icac []byte, keyPair *crypto.KeyPair) (*Fabric, error) {

	if err := crypto.ValidatePublicKey(rootPublicKey); err != nil {
		return nil, fmt.Errorf("fabric: root public key: %w", err)
	}
	if len(epochKey) != EpochKeySize {
		return nil, ErrInvalidEpochKey
	}
	if len(noc) == 0 {
		return nil, ErrMissingNOC
	}
	if keyPair == nil {
		return nil, ErrMissingKeyPair
	}

	f := &Fabric{
		FabricID:           fabricID,
		NodeID:             nodeID,
		CompressedFabricID: compressedFabricID,
		KeyPair:            keyPair,
		NOC:                append([]byte(nil), noc...),
	}
	copy(f.RootPublicKey[:], rootPublicKey)
	copy(f.EpochKey[:], epochKey)
	if icac != nil {
		f.ICAC = append([]byte(nil), icac...)
	}
	return f, nil
}

// IPK derives the operational identity protection key for this fabric.
func (f *Fabric) IPK() ([]byte, error) {
	return crypto.DeriveGroupKey(f.EpochKey[:], f.CompressedFabricID[:])
}

// HasICAC reports whether the certificate chain has an intermediate.
func (f *Fabric) HasICAC() bool {
	return len(f.ICAC) > 0
}

// String returns a human-readable identity summary.
func (f *Fabric) String() string {
	return fmt.Sprintf("Fabric{FabricID=0x%016X, NodeID=0x%016X, ICAC=%t}",
		f.FabricID, f.NodeID, f.HasICAC())
}
