// Operational group key (IPK) derivation. The trust domain distributes an
// epoch key; the key actually mixed into handshake salts and destination
// identifiers is derived from it together with the compressed fabric
// identifier.

package crypto

import "errors"

// CompressedFabricIDSize is the compressed fabric identifier length in bytes.
const CompressedFabricIDSize = 8

var groupKeyInfo = []byte("GroupKey v1.0")

// Group key errors.
var (
	ErrEpochKeySize          = errors.New("crypto: epoch key must be 16 bytes")
	ErrCompressedFabricIDLen = errors.New("crypto: compressed fabric id must be 8 bytes")
)

// DeriveGroupKey derives the 16-byte operational group key (IPK) from an
// epoch key and the compressed fabric identifier:
//
//	IPK = HKDF-SHA256(epochKey, salt=compressedFabricID, info="GroupKey v1.0", 16)
func DeriveGroupKey(epochKey, compressedFabricID []byte) ([]byte, error) {
	if len(epochKey) != SymmetricKeySize {
		return nil, ErrEpochKeySize
	}
	if len(compressedFabricID) != CompressedFabricIDSize {
		return nil, ErrCompressedFabricIDLen
	}
	return HKDFSHA256(epochKey, compressedFabricID, groupKeyInfo, SymmetricKeySize)
}
