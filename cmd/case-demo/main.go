// case-demo establishes a CASE session between two processes over TCP.
//
// Start the responder, then the initiator:
//
//	case-demo -listen :5540
//	case-demo -dial 127.0.0.1:5540
//
// Both sides derive the same demo identities from -secret, so any two
// invocations with matching secrets share a trust root. The identities are
// deterministic throwaways; never reuse this scheme outside a demo.
//
// Options:
//
//	-listen  listen address, run as responder
//	-dial    dial address, run as initiator
//	-secret  shared demo secret (default: "case-demo")
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/opmesh/casekit/pkg/crypto"
	"github.com/opmesh/casekit/pkg/fabric"
	"github.com/opmesh/casekit/pkg/securechannel/casesession"
	"github.com/opmesh/casekit/pkg/session"
	"github.com/opmesh/casekit/pkg/tlv"
)

const (
	demoFabricID       = uint64(0x0000000000000001)
	initiatorNodeID    = uint64(0x0000000000001111)
	responderNodeID    = uint64(0x0000000000002222)
	initiatorSessionID = uint16(0x0001)
	responderSessionID = uint16(0x0002)
)

func main() {
	listen := flag.String("listen", "", "listen address, run as responder")
	dial := flag.String("dial", "", "dial address, run as initiator")
	secret := flag.String("secret", "case-demo", "shared demo secret")
	flag.Parse()

	switch {
	case *listen != "" && *dial == "":
		if err := runResponder(*listen, *secret); err != nil {
			log.Fatalf("responder: %v", err)
		}
	case *dial != "" && *listen == "":
		if err := runInitiator(*dial, *secret); err != nil {
			log.Fatalf("initiator: %v", err)
		}
	default:
		log.Fatal("specify exactly one of -listen or -dial")
	}
}

func runResponder(addr, secret string) error {
	f, err := demoIdentity(secret, responderNodeID)
	if err != nil {
		return err
	}
	table := fabric.NewTable()
	if err := table.Add(f); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("listening on %s as node 0x%016X", ln.Addr(), responderNodeID)

	conn, err := ln.Accept()
	if err != nil {
		return err
	}

	del := newDelegate()
	engine, err := casesession.NewEngine(casesession.Config{
		Conn:              conn,
		Fabrics:           table,
		Resumptions:       fabric.NewResumptionStore(),
		VerifyCredentials: verifyDemoCredentials,
		Delegate:          del,
	})
	if err != nil {
		return err
	}
	defer engine.Clear()

	if err := engine.Listen(responderSessionID); err != nil {
		return err
	}
	return del.report()
}

func runInitiator(addr, secret string) error {
	f, err := demoIdentity(secret, initiatorNodeID)
	if err != nil {
		return err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}

	del := newDelegate()
	engine, err := casesession.NewEngine(casesession.Config{
		Conn:              conn,
		Fabric:            f,
		Resumptions:       fabric.NewResumptionStore(),
		VerifyCredentials: verifyDemoCredentials,
		Delegate:          del,
	})
	if err != nil {
		return err
	}
	defer engine.Clear()

	if err := engine.Establish(responderNodeID, initiatorSessionID); err != nil {
		return err
	}
	return del.report()
}

type delegate struct {
	established chan *session.SecureSession
	failed      chan error
}

func newDelegate() *delegate {
	return &delegate{
		established: make(chan *session.SecureSession, 1),
		failed:      make(chan error, 1),
	}
}

func (d *delegate) OnEstablished(sc *session.SecureSession) { d.established <- sc }
func (d *delegate) OnEstablishmentError(err error)          { d.failed <- err }

func (d *delegate) report() error {
	select {
	case sc := <-d.established:
		defer sc.Close()
		log.Printf("session established as %s: local id 0x%04X, peer id 0x%04X, peer node 0x%016X",
			sc.Role(), sc.LocalSessionID(), sc.PeerSessionID(), sc.PeerNodeID())
		challenge := sc.AttestationChallenge()
		log.Printf("attestation challenge: %x", challenge)
		return nil
	case err := <-d.failed:
		return err
	case <-time.After(time.Minute):
		return errors.New("no handshake within a minute")
	}
}

// demoIdentity derives a deterministic identity for the given node from the
// shared secret.
func demoIdentity(secret string, nodeID uint64) (*fabric.Fabric, error) {
	rootKey, err := demoKeyPair(secret, "root")
	if err != nil {
		return nil, err
	}
	opKey, err := demoKeyPair(secret, fmt.Sprintf("node-%016X", nodeID))
	if err != nil {
		return nil, err
	}

	epochKey, err := crypto.HKDFSHA256([]byte(secret), nil, []byte("demo-epoch"), crypto.SymmetricKeySize)
	if err != nil {
		return nil, err
	}
	var compressedFabricID [crypto.CompressedFabricIDSize]byte
	fabricDigest := crypto.SHA256([]byte(secret + "/fabric"))
	copy(compressedFabricID[:], fabricDigest[:])

	var rootPub [crypto.PublicKeySize]byte
	copy(rootPub[:], rootKey.PublicKey())
	noc, err := encodeDemoCert(nodeID, demoFabricID, opKey.PublicKey(), rootPub)
	if err != nil {
		return nil, err
	}
	return fabric.New(demoFabricID, nodeID, rootKey.PublicKey(), compressedFabricID, epochKey, noc, nil, opKey)
}

func demoKeyPair(secret, label string) (*crypto.KeyPair, error) {
	seed := crypto.SHA256([]byte(secret + "/" + label))
	return crypto.KeyPairFromScalar(seed[:])
}

// encodeDemoCert builds the stand-in certificate format this demo uses in
// place of real operational certificates.
func encodeDemoCert(nodeID, fabricID uint64, opPub []byte, rootPub [crypto.PublicKeySize]byte) ([]byte, error) {
	enc := tlv.NewEncoder()
	enc.StartStructure(tlv.Anonymous())
	enc.PutUintWithWidth(tlv.ContextTag(1), nodeID, 8)
	enc.PutUintWithWidth(tlv.ContextTag(2), fabricID, 8)
	enc.PutBytes(tlv.ContextTag(3), opPub)
	enc.PutBytes(tlv.ContextTag(4), rootPub[:])
	if err := enc.EndStructure(); err != nil {
		return nil, err
	}
	return enc.Bytes()
}

func verifyDemoCredentials(noc, _ []byte, rootPublicKey [crypto.PublicKeySize]byte) (*casesession.PeerIdentity, error) {
	d := tlv.NewDecoder(noc)
	if err := d.Next(); err != nil {
		return nil, err
	}
	if err := d.EnterStructure(); err != nil {
		return nil, err
	}

	ident := &casesession.PeerIdentity{}
	var certRoot [crypto.PublicKeySize]byte
	for {
		err := d.Next()
		if err == tlv.ErrEndOfContainer {
			break
		}
		if err != nil {
			return nil, err
		}
		tag, err := d.Tag()
		if err != nil {
			return nil, err
		}
		switch tag.Number() {
		case 1:
			if ident.NodeID, err = d.Uint(); err != nil {
				return nil, err
			}
		case 2:
			if ident.FabricID, err = d.Uint(); err != nil {
				return nil, err
			}
		case 3:
			b, err := d.Bytes()
			if err != nil {
				return nil, err
			}
			copy(ident.PublicKey[:], b)
		case 4:
			b, err := d.Bytes()
			if err != nil {
				return nil, err
			}
			copy(certRoot[:], b)
		}
	}

	if certRoot != rootPublicKey {
		return nil, errors.New("certificate issued under a different root")
	}
	return ident, nil
}
