package crypto

import "encoding/binary"

// BuildAEADNonce constructs the 13-byte nonce used for application traffic
// protection:
//
//	securityFlags (1) || messageCounter (4, LE) || sourceNodeID (8, LE)
func BuildAEADNonce(securityFlags uint8, messageCounter uint32, sourceNodeID uint64) []byte {
	nonce := make([]byte, AEADNonceSize)
	nonce[0] = securityFlags
	binary.LittleEndian.PutUint32(nonce[1:5], messageCounter)
	binary.LittleEndian.PutUint64(nonce[5:13], sourceNodeID)
	return nonce
}
