package casesession

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/opmesh/casekit/pkg/crypto"
	"github.com/opmesh/casekit/pkg/exchange"
	"github.com/opmesh/casekit/pkg/fabric"
	"github.com/opmesh/casekit/pkg/securechannel"
	"github.com/opmesh/casekit/pkg/session"
)

// PeerIdentity is the outcome of verifying a peer's certificate chain.
type PeerIdentity struct {
	NodeID   uint64
	FabricID uint64

	// PublicKey is the operational public key certified by the NOC. TBS
	// signatures are verified against it.
	PublicKey [crypto.PublicKeySize]byte
}

// VerifyCredentialsFunc validates a peer's NOC and optional ICAC against the
// given trusted root and extracts the certified identity. A nil func skips
// credential and signature verification entirely; only tests should do that.
type VerifyCredentialsFunc func(noc, icac []byte, rootPublicKey [crypto.PublicKeySize]byte) (*PeerIdentity, error)

// Delegate receives the outcome of a handshake. Callbacks run on the
// endpoint's read goroutine and must not block.
type Delegate interface {
	// OnEstablished is called once with the ready-to-use secure session.
	OnEstablished(sc *session.SecureSession)

	// OnEstablishmentError is called once when the handshake fails. The
	// engine is already cleared when it fires.
	OnEstablishmentError(err error)
}

// Config collects the dependencies of an Engine.
type Config struct {
	// Conn carries handshake messages to the peer.
	Conn net.Conn

	// ResponseTimeout bounds the wait for each peer response. Zero means
	// exchange.DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// Fabric is the identity to initiate with. Required for Establish.
	Fabric *fabric.Fabric

	// Fabrics is the identity table a responder answers for. Required for
	// Listen.
	Fabrics *fabric.Table

	// Resumptions caches established sessions for the abbreviated
	// handshake. Optional; nil disables resumption on both roles.
	Resumptions *fabric.ResumptionStore

	// VerifyCredentials validates peer certificate chains.
	VerifyCredentials VerifyCredentialsFunc

	// Delegate receives the handshake outcome. Required.
	Delegate Delegate

	// MRPParams are advertised to the peer when set.
	MRPParams *MRPParameters

	LoggerFactory logging.LoggerFactory
}

type dispatchKey struct {
	state  State
	opcode securechannel.Opcode
}

type handlerFunc func(e *Engine, payload []byte) (*session.SecureSession, error)

// dispatch maps each legal (state, message type) pair to its handler. Any
// pair absent here aborts the handshake.
var dispatch = map[dispatchKey]handlerFunc{
	{StateInitialized, securechannel.OpcodeSigma1}:            (*Engine).handleSigma1,
	{StateSentSigma1, securechannel.OpcodeSigma2}:             (*Engine).handleSigma2,
	{StateSentSigma1, securechannel.OpcodeSigma2Resume}:       (*Engine).handleSigma2Resume,
	{StateSentSigma1, securechannel.OpcodeStatusReport}:       (*Engine).handleStatusReport,
	{StateSentSigma2, securechannel.OpcodeSigma3}:             (*Engine).handleSigma3,
	{StateSentSigma2, securechannel.OpcodeStatusReport}:       (*Engine).handleStatusReport,
	{StateSentSigma2Resume, securechannel.OpcodeStatusReport}: (*Engine).handleStatusReport,
	{StateSentSigma3, securechannel.OpcodeStatusReport}:       (*Engine).handleStatusReport,
}

// Engine drives one CASE handshake over an exchange endpoint. An Engine is
// single-use: after establishment or failure it must be discarded.
type Engine struct {
	mu sync.Mutex

	endpoint *exchange.Endpoint
	log      logging.LeveledLogger
	rand     io.Reader

	fab         *fabric.Fabric
	fabrics     *fabric.Table
	resumptions *fabric.ResumptionStore
	verify      VerifyCredentialsFunc
	delegate    Delegate
	mrpParams   *MRPParameters

	state       State
	established bool
	listening   bool
	cleared     bool
	resumed     bool

	role            session.Role
	localSessionID  uint16
	peerSessionID   uint16
	localNodeID     uint64
	peerNodeID      uint64
	targetNodeID    uint64
	activeFabric    *fabric.Fabric
	peerMRPParams   *MRPParameters
	attemptedResume bool

	localRandom     [RandomSize]byte
	ephKey          *crypto.KeyPair
	peerEphPubKey   [crypto.PublicKeySize]byte
	ipk             []byte
	sharedSecret    *crypto.SecretBuffer
	prevSecret      *crypto.SecretBuffer
	newResumptionID [ResumptionIDSize]byte
	transcript      *crypto.TranscriptHash
	sessionKeys     *session.Keys
}

// NewEngine creates an engine and starts reading handshake messages from the
// connection. The engine does nothing until Establish or Listen is called.
func NewEngine(config Config) (*Engine, error) {
	if config.Delegate == nil {
		return nil, errors.New("casesession: no delegate configured")
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	e := &Engine{
		log:         loggerFactory.NewLogger("casesession"),
		rand:        rand.Reader,
		fab:         config.Fabric,
		fabrics:     config.Fabrics,
		resumptions: config.Resumptions,
		verify:      config.VerifyCredentials,
		delegate:    config.Delegate,
		mrpParams:   config.MRPParams,
		state:       StateInitialized,
		transcript:  crypto.NewTranscriptHash(),
	}

	endpoint, err := exchange.NewEndpoint(exchange.Config{
		Conn:            config.Conn,
		Handler:         e,
		ResponseTimeout: config.ResponseTimeout,
		LoggerFactory:   loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	e.endpoint = endpoint
	return e, nil
}

// Establish starts a handshake as initiator, addressing peerNodeID on the
// configured fabric. When a resumption record for the peer exists the
// abbreviated path is attempted first; the responder decides whether to
// honor it.
func (e *Engine) Establish(peerNodeID uint64, localSessionID uint16) error {
	e.mu.Lock()
	if e.cleared || e.listening || e.state != StateInitialized {
		e.mu.Unlock()
		return ErrIncorrectState
	}
	if e.fab == nil {
		e.mu.Unlock()
		return errors.New("casesession: no fabric configured for initiator")
	}

	msg1, err := e.buildSigma1Locked(peerNodeID, localSessionID)
	if err != nil {
		e.mu.Unlock()
		e.Clear()
		return err
	}

	e.state = StateSentSigma1
	e.mu.Unlock()

	e.log.Debugf("establishing session with node 0x%016X", peerNodeID)
	if err := e.endpoint.SendMessage(uint8(securechannel.OpcodeSigma1), msg1, true); err != nil {
		e.Clear()
		return err
	}
	return nil
}

func (e *Engine) buildSigma1Locked(peerNodeID uint64, localSessionID uint16) ([]byte, error) {
	e.role = session.RoleInitiator
	e.activeFabric = e.fab
	e.localNodeID = e.fab.NodeID
	e.targetNodeID = peerNodeID
	e.localSessionID = localSessionID

	ipk, err := e.fab.IPK()
	if err != nil {
		return nil, err
	}
	e.ipk = ipk

	if _, err := io.ReadFull(e.rand, e.localRandom[:]); err != nil {
		return nil, err
	}
	e.ephKey, err = crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	s1 := &Sigma1{
		InitiatorRandom:    e.localRandom,
		InitiatorSessionID: localSessionID,
		DestinationID: ComputeDestinationID(e.ipk, e.localRandom,
			e.fab.RootPublicKey, e.fab.FabricID, peerNodeID),
		MRPParams: e.mrpParams,
	}
	copy(s1.InitiatorEphPubKey[:], e.ephKey.PublicKey())

	if e.resumptions != nil {
		if rec, err := e.resumptions.FindByPeer(e.fab.FabricID, peerNodeID); err == nil {
			s1rk, err := DeriveS1RK(rec.SharedSecret.Bytes(), e.localRandom, rec.ResumptionID)
			if err != nil {
				return nil, err
			}
			mic, err := ComputeResumeMIC(s1rk, Resume1Nonce)
			if err != nil {
				return nil, err
			}
			resumptionID := rec.ResumptionID
			s1.ResumptionID = &resumptionID
			s1.ResumeMIC = &mic
			e.prevSecret = rec.SharedSecret.Clone()
			e.attemptedResume = true
		}
	}

	msg1, err := s1.Encode()
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(msg1); err != nil {
		return nil, err
	}
	return msg1, nil
}

// Listen arms the engine as responder. The handshake proper starts when the
// peer's Sigma1 arrives.
func (e *Engine) Listen(localSessionID uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cleared || e.listening || e.state != StateInitialized {
		return ErrIncorrectState
	}
	if e.fabrics == nil {
		return errors.New("casesession: no fabric table configured for responder")
	}

	e.role = session.RoleResponder
	e.localSessionID = localSessionID
	e.listening = true
	return nil
}

// OnMessageReceived implements exchange.Handler.
func (e *Engine) OnMessageReceived(opcode uint8, payload []byte) {
	if err := e.HandleMessage(securechannel.Opcode(opcode), payload); err != nil {
		e.log.Debugf("handshake aborted: %v", err)
	}
}

// OnResponseTimeout implements exchange.Handler.
func (e *Engine) OnResponseTimeout() {
	e.mu.Lock()
	if e.cleared || e.established || e.state == StateInitialized {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.Clear()
	e.delegate.OnEstablishmentError(ErrTimeout)
}

// HandleMessage advances the handshake with one inbound message. Any error
// aborts the handshake: a failure status report is sent when the offending
// message was not itself a status report, the engine is cleared, and the
// delegate is notified.
func (e *Engine) HandleMessage(opcode securechannel.Opcode, payload []byte) error {
	e.mu.Lock()
	if e.cleared {
		e.mu.Unlock()
		return ErrIncorrectState
	}
	if e.established {
		e.mu.Unlock()
		e.log.Debugf("dropping %s after establishment", opcode)
		return nil
	}

	handler, ok := dispatch[dispatchKey{e.state, opcode}]
	if !ok {
		err := fmt.Errorf("%w: %s in state %s", ErrInvalidMessageType, opcode, e.state)
		e.failLocked(err, opcode)
		return err
	}

	sc, err := handler(e, payload)
	if err != nil {
		e.failLocked(err, opcode)
		return err
	}
	e.mu.Unlock()

	if sc != nil {
		e.log.Infof("session established with node 0x%016X", sc.PeerNodeID())
		e.delegate.OnEstablished(sc)
	}
	return nil
}

// failLocked sends a best-effort failure report, clears the engine and
// notifies the delegate. Called with mu held; returns with mu released.
func (e *Engine) failLocked(err error, opcode securechannel.Opcode) {
	if opcode != securechannel.OpcodeStatusReport {
		report := securechannel.InvalidParam()
		if errors.Is(err, ErrNoSharedRoot) {
			report = securechannel.NoSharedRoot()
		}
		if sendErr := e.endpoint.SendMessage(uint8(securechannel.OpcodeStatusReport), report.Encode(), false); sendErr != nil {
			e.log.Debugf("failure report not sent: %v", sendErr)
		}
	}
	e.mu.Unlock()

	e.Clear()
	e.delegate.OnEstablishmentError(err)
}

// handleSigma1 runs on the responder for the initiator's opening message.
func (e *Engine) handleSigma1(payload []byte) (*session.SecureSession, error) {
	if !e.listening {
		return nil, ErrIncorrectState
	}

	msg, err := DecodeSigma1(payload)
	if err != nil {
		return nil, err
	}
	if err := crypto.ValidatePublicKey(msg.InitiatorEphPubKey[:]); err != nil {
		return nil, fmt.Errorf("%w: initiator ephemeral key: %v", ErrInvalidMessage, err)
	}
	if err := e.transcript.AddMessage(payload); err != nil {
		return nil, err
	}

	e.peerSessionID = msg.InitiatorSessionID
	e.peerEphPubKey = msg.InitiatorEphPubKey
	e.peerMRPParams = msg.MRPParams

	if msg.HasResumption() && e.resumptions != nil {
		if rec, err := e.resumptions.FindByID(*msg.ResumptionID); err == nil {
			s1rk, err := DeriveS1RK(rec.SharedSecret.Bytes(), msg.InitiatorRandom, rec.ResumptionID)
			if err == nil && VerifyResumeMIC(s1rk, Resume1Nonce, *msg.ResumeMIC) {
				return nil, e.acceptResumptionLocked(msg, rec)
			}
		}
		// Unknown record or bad MIC: fall through to the full handshake.
		e.log.Debugf("resumption attempt not honored, answering with full handshake")
	}

	f, ipk, err := FindFabricByDestinationID(e.fabrics, msg.DestinationID, msg.InitiatorRandom)
	if err != nil {
		return nil, err
	}
	e.activeFabric = f
	e.ipk = ipk
	e.localNodeID = f.NodeID

	if _, err := io.ReadFull(e.rand, e.localRandom[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(e.rand, e.newResumptionID[:]); err != nil {
		return nil, err
	}
	e.ephKey, err = crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	var ephPub [crypto.PublicKeySize]byte
	copy(ephPub[:], e.ephKey.PublicKey())

	ss, err := e.ephKey.ECDH(msg.InitiatorEphPubKey[:])
	if err != nil {
		return nil, err
	}
	e.sharedSecret = crypto.NewSecretBuffer(ss)
	crypto.ZeroBytes(ss)

	tbs2 := &TBSData2{
		ResponderNOC:       f.NOC,
		ResponderICAC:      f.ICAC,
		ResponderEphPubKey: ephPub,
		InitiatorEphPubKey: msg.InitiatorEphPubKey,
	}
	tbs2Bytes, err := tbs2.Encode()
	if err != nil {
		return nil, err
	}
	sig, err := f.KeyPair.Sign(tbs2Bytes)
	if err != nil {
		return nil, err
	}

	tbe2 := &TBEData2{
		ResponderNOC:  f.NOC,
		ResponderICAC: f.ICAC,
		ResumptionID:  e.newResumptionID,
	}
	copy(tbe2.Signature[:], sig)
	tbe2Bytes, err := tbe2.Encode()
	if err != nil {
		return nil, err
	}

	digest, err := e.transcript.CurrentDigest()
	if err != nil {
		return nil, err
	}
	s2k, err := DeriveS2K(e.sharedSecret.Bytes(), e.ipk, e.localRandom, ephPub, digest)
	if err != nil {
		return nil, err
	}
	encrypted2, err := EncryptTBEData(s2k, tbe2Bytes, Sigma2Nonce)
	crypto.ZeroBytes(tbe2Bytes)
	if err != nil {
		return nil, err
	}

	s2 := &Sigma2{
		ResponderRandom:    e.localRandom,
		ResponderSessionID: e.localSessionID,
		ResponderEphPubKey: ephPub,
		Encrypted2:         encrypted2,
		MRPParams:          e.mrpParams,
	}
	msg2, err := s2.Encode()
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(msg2); err != nil {
		return nil, err
	}

	e.state = StateSentSigma2
	if err := e.endpoint.SendMessage(uint8(securechannel.OpcodeSigma2), msg2, true); err != nil {
		return nil, err
	}
	return nil, nil
}

// acceptResumptionLocked answers a verified resumption attempt with
// Sigma2Resume. Session keys are derived now; establishment waits for the
// initiator's confirmation report.
func (e *Engine) acceptResumptionLocked(msg *Sigma1, rec *fabric.ResumptionRecord) error {
	f, err := e.fabrics.Find(func(f *fabric.Fabric) bool {
		return f.FabricID == rec.FabricID
	})
	if err != nil {
		return ErrNoSharedRoot
	}
	ipk, err := f.IPK()
	if err != nil {
		return err
	}
	e.activeFabric = f
	e.ipk = ipk
	e.localNodeID = f.NodeID
	e.peerNodeID = rec.PeerNodeID
	e.sharedSecret = rec.SharedSecret.Clone()

	if _, err := io.ReadFull(e.rand, e.newResumptionID[:]); err != nil {
		return err
	}
	s2rk, err := DeriveS2RK(e.sharedSecret.Bytes(), msg.InitiatorRandom, e.newResumptionID)
	if err != nil {
		return err
	}
	mic, err := ComputeResumeMIC(s2rk, Resume2Nonce)
	if err != nil {
		return err
	}

	resume := &Sigma2Resume{
		ResumptionID:       e.newResumptionID,
		ResumeMIC:          mic,
		ResponderSessionID: e.localSessionID,
		MRPParams:          e.mrpParams,
	}
	msg2, err := resume.Encode()
	if err != nil {
		return err
	}
	if err := e.transcript.AddMessage(msg2); err != nil {
		return err
	}
	digest, err := e.transcript.Finalize()
	if err != nil {
		return err
	}
	e.sessionKeys, err = DeriveSessionKeys(e.sharedSecret.Bytes(), e.ipk, digest)
	if err != nil {
		return err
	}

	e.resumed = true
	e.state = StateSentSigma2Resume
	return e.endpoint.SendMessage(uint8(securechannel.OpcodeSigma2Resume), msg2, true)
}

// handleSigma2 runs on the initiator for the responder's reply on the full
// handshake path.
func (e *Engine) handleSigma2(payload []byte) (*session.SecureSession, error) {
	msg, err := DecodeSigma2(payload)
	if err != nil {
		return nil, err
	}
	if err := crypto.ValidatePublicKey(msg.ResponderEphPubKey[:]); err != nil {
		return nil, fmt.Errorf("%w: responder ephemeral key: %v", ErrInvalidMessage, err)
	}

	// S2K is salted with the transcript up to and including Sigma1 only.
	digest1, err := e.transcript.CurrentDigest()
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(payload); err != nil {
		return nil, err
	}

	e.peerSessionID = msg.ResponderSessionID
	e.peerEphPubKey = msg.ResponderEphPubKey
	e.peerMRPParams = msg.MRPParams

	ss, err := e.ephKey.ECDH(msg.ResponderEphPubKey[:])
	if err != nil {
		return nil, err
	}
	e.sharedSecret = crypto.NewSecretBuffer(ss)
	crypto.ZeroBytes(ss)

	s2k, err := DeriveS2K(e.sharedSecret.Bytes(), e.ipk, msg.ResponderRandom, msg.ResponderEphPubKey, digest1)
	if err != nil {
		return nil, err
	}
	tbe2Bytes, err := DecryptTBEData(s2k, msg.Encrypted2, Sigma2Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	tbe2, err := DecodeTBEData2(tbe2Bytes)
	crypto.ZeroBytes(tbe2Bytes)
	if err != nil {
		return nil, err
	}
	e.newResumptionID = tbe2.ResumptionID

	var ephPub [crypto.PublicKeySize]byte
	copy(ephPub[:], e.ephKey.PublicKey())

	if e.verify != nil {
		ident, err := e.verify(tbe2.ResponderNOC, tbe2.ResponderICAC, e.activeFabric.RootPublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		if ident.NodeID != e.targetNodeID || ident.FabricID != e.activeFabric.FabricID {
			return nil, fmt.Errorf("%w: certificate names node 0x%016X on fabric 0x%016X",
				ErrInvalidCredentials, ident.NodeID, ident.FabricID)
		}
		tbs2 := &TBSData2{
			ResponderNOC:       tbe2.ResponderNOC,
			ResponderICAC:      tbe2.ResponderICAC,
			ResponderEphPubKey: msg.ResponderEphPubKey,
			InitiatorEphPubKey: ephPub,
		}
		tbs2Bytes, err := tbs2.Encode()
		if err != nil {
			return nil, err
		}
		if !crypto.Verify(ident.PublicKey[:], tbs2Bytes, tbe2.Signature[:]) {
			return nil, ErrSignatureInvalid
		}
	}
	e.peerNodeID = e.targetNodeID

	tbs3 := &TBSData3{
		InitiatorNOC:       e.fab.NOC,
		InitiatorICAC:      e.fab.ICAC,
		InitiatorEphPubKey: ephPub,
		ResponderEphPubKey: msg.ResponderEphPubKey,
	}
	tbs3Bytes, err := tbs3.Encode()
	if err != nil {
		return nil, err
	}
	sig, err := e.fab.KeyPair.Sign(tbs3Bytes)
	if err != nil {
		return nil, err
	}

	tbe3 := &TBEData3{
		InitiatorNOC:  e.fab.NOC,
		InitiatorICAC: e.fab.ICAC,
	}
	copy(tbe3.Signature[:], sig)
	tbe3Bytes, err := tbe3.Encode()
	if err != nil {
		return nil, err
	}

	digest2, err := e.transcript.CurrentDigest()
	if err != nil {
		return nil, err
	}
	s3k, err := DeriveS3K(e.sharedSecret.Bytes(), e.ipk, digest2)
	if err != nil {
		return nil, err
	}
	encrypted3, err := EncryptTBEData(s3k, tbe3Bytes, Sigma3Nonce)
	crypto.ZeroBytes(tbe3Bytes)
	if err != nil {
		return nil, err
	}

	s3 := &Sigma3{Encrypted3: encrypted3}
	msg3, err := s3.Encode()
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(msg3); err != nil {
		return nil, err
	}
	if _, err := e.transcript.Finalize(); err != nil {
		return nil, err
	}

	e.state = StateSentSigma3
	if err := e.endpoint.SendMessage(uint8(securechannel.OpcodeSigma3), msg3, true); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleSigma2Resume runs on the initiator when the responder honored the
// resumption attempt. On success the initiator is established immediately
// and confirms with a status report.
func (e *Engine) handleSigma2Resume(payload []byte) (*session.SecureSession, error) {
	if !e.attemptedResume || e.prevSecret == nil {
		return nil, fmt.Errorf("%w: unsolicited resumption answer", ErrInvalidMessageType)
	}

	msg, err := DecodeSigma2Resume(payload)
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(payload); err != nil {
		return nil, err
	}

	s2rk, err := DeriveS2RK(e.prevSecret.Bytes(), e.localRandom, msg.ResumptionID)
	if err != nil {
		return nil, err
	}
	if !VerifyResumeMIC(s2rk, Resume2Nonce, msg.ResumeMIC) {
		return nil, ErrInvalidResumeMIC
	}

	e.peerSessionID = msg.ResponderSessionID
	e.peerMRPParams = msg.MRPParams
	e.peerNodeID = e.targetNodeID
	e.newResumptionID = msg.ResumptionID
	e.sharedSecret = e.prevSecret.Clone()

	digest, err := e.transcript.Finalize()
	if err != nil {
		return nil, err
	}
	e.sessionKeys, err = DeriveSessionKeys(e.sharedSecret.Bytes(), e.ipk, digest)
	if err != nil {
		return nil, err
	}

	e.resumed = true
	e.state = StateSentSigma2Resume
	e.established = true
	report := securechannel.SessionEstablished()
	if err := e.endpoint.SendMessage(uint8(securechannel.OpcodeStatusReport), report.Encode(), false); err != nil {
		return nil, err
	}

	e.saveResumptionLocked()
	return e.deriveSecureSessionLocked(e.role)
}

// handleSigma3 runs on the responder for the initiator's final message.
func (e *Engine) handleSigma3(payload []byte) (*session.SecureSession, error) {
	msg, err := DecodeSigma3(payload)
	if err != nil {
		return nil, err
	}

	// S3K is salted with the transcript up to and including Sigma2 only.
	digest2, err := e.transcript.CurrentDigest()
	if err != nil {
		return nil, err
	}
	if err := e.transcript.AddMessage(payload); err != nil {
		return nil, err
	}

	s3k, err := DeriveS3K(e.sharedSecret.Bytes(), e.ipk, digest2)
	if err != nil {
		return nil, err
	}
	tbe3Bytes, err := DecryptTBEData(s3k, msg.Encrypted3, Sigma3Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	tbe3, err := DecodeTBEData3(tbe3Bytes)
	crypto.ZeroBytes(tbe3Bytes)
	if err != nil {
		return nil, err
	}

	if e.verify != nil {
		ident, err := e.verify(tbe3.InitiatorNOC, tbe3.InitiatorICAC, e.activeFabric.RootPublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		if ident.FabricID != e.activeFabric.FabricID {
			return nil, fmt.Errorf("%w: certificate names fabric 0x%016X",
				ErrInvalidCredentials, ident.FabricID)
		}
		var ephPub [crypto.PublicKeySize]byte
		copy(ephPub[:], e.ephKey.PublicKey())
		tbs3 := &TBSData3{
			InitiatorNOC:       tbe3.InitiatorNOC,
			InitiatorICAC:      tbe3.InitiatorICAC,
			InitiatorEphPubKey: e.peerEphPubKey,
			ResponderEphPubKey: ephPub,
		}
		tbs3Bytes, err := tbs3.Encode()
		if err != nil {
			return nil, err
		}
		if !crypto.Verify(ident.PublicKey[:], tbs3Bytes, tbe3.Signature[:]) {
			return nil, ErrSignatureInvalid
		}
		e.peerNodeID = ident.NodeID
	}

	digest, err := e.transcript.Finalize()
	if err != nil {
		return nil, err
	}
	e.sessionKeys, err = DeriveSessionKeys(e.sharedSecret.Bytes(), e.ipk, digest)
	if err != nil {
		return nil, err
	}

	e.established = true
	report := securechannel.SessionEstablished()
	if err := e.endpoint.SendMessage(uint8(securechannel.OpcodeStatusReport), report.Encode(), false); err != nil {
		return nil, err
	}

	e.saveResumptionLocked()
	return e.deriveSecureSessionLocked(e.role)
}

// handleStatusReport runs on whichever side awaits the peer's verdict.
func (e *Engine) handleStatusReport(payload []byte) (*session.SecureSession, error) {
	report, err := securechannel.DecodeStatusReport(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if report.IsSessionEstablished() {
		switch e.state {
		case StateSentSigma3:
			digest, err := e.transcript.FinalDigest()
			if err != nil {
				return nil, err
			}
			e.sessionKeys, err = DeriveSessionKeys(e.sharedSecret.Bytes(), e.ipk, digest)
			if err != nil {
				return nil, err
			}
		case StateSentSigma2Resume:
			if e.sessionKeys == nil {
				return nil, ErrIncorrectState
			}
		default:
			return nil, fmt.Errorf("%w: unexpected success report in state %s", ErrInvalidMessage, e.state)
		}

		e.established = true
		e.saveResumptionLocked()
		return e.deriveSecureSessionLocked(e.role)
	}

	if report.IsBusy() {
		return nil, fmt.Errorf("%w: retry after %dms", ErrBusy, report.BusyWaitTime())
	}
	if report.ProtocolID == uint32(securechannel.ProtocolID) &&
		report.ProtocolCode == securechannel.ProtocolCodeNoSharedRoot {
		return nil, ErrNoSharedRoot
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, report)
}

// saveResumptionLocked records the session outcome for later resumption.
func (e *Engine) saveResumptionLocked() {
	if e.resumptions == nil || e.sharedSecret == nil || e.activeFabric == nil {
		return
	}
	e.resumptions.Save(&fabric.ResumptionRecord{
		ResumptionID: e.newResumptionID,
		SharedSecret: e.sharedSecret.Clone(),
		FabricID:     e.activeFabric.FabricID,
		PeerNodeID:   e.peerNodeID,
	})
}

func (e *Engine) deriveSecureSessionLocked(role session.Role) (*session.SecureSession, error) {
	if !e.established || e.sessionKeys == nil {
		return nil, ErrIncorrectState
	}

	config := session.Config{
		Role: role,
		Keys: *e.sessionKeys,
	}
	if role == e.role {
		config.LocalSessionID = e.localSessionID
		config.PeerSessionID = e.peerSessionID
		config.LocalNodeID = e.localNodeID
		config.PeerNodeID = e.peerNodeID
		config.Resumption = &session.ResumptionHandle{
			ResumptionID: e.newResumptionID,
			SharedSecret: e.sharedSecret.Clone(),
			PeerNodeID:   e.peerNodeID,
			FabricID:     e.activeFabric.FabricID,
		}
	} else {
		config.LocalSessionID = e.peerSessionID
		config.PeerSessionID = e.localSessionID
		config.LocalNodeID = e.peerNodeID
		config.PeerNodeID = e.localNodeID
	}
	return session.New(config)
}

// DeriveSecureSession returns a secure session for the given role from a
// completed handshake. Deriving for the opposite role is how tests model the
// peer; it carries no resumption handle.
func (e *Engine) DeriveSecureSession(role session.Role) (*session.SecureSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deriveSecureSessionLocked(role)
}

// Clear wipes all handshake secrets and shuts the engine down. It is
// idempotent and safe to call at any point; a cleared engine rejects all
// further operations.
func (e *Engine) Clear() {
	e.mu.Lock()
	if e.cleared {
		e.mu.Unlock()
		return
	}
	e.cleared = true

	if e.sharedSecret != nil {
		e.sharedSecret.Wipe()
		e.sharedSecret = nil
	}
	if e.prevSecret != nil {
		e.prevSecret.Wipe()
		e.prevSecret = nil
	}
	if e.sessionKeys != nil {
		e.sessionKeys.Wipe()
		e.sessionKeys = nil
	}
	crypto.ZeroBytes(e.ipk)
	e.ipk = nil
	crypto.ZeroBytes(e.localRandom[:])
	crypto.ZeroBytes(e.newResumptionID[:])
	e.transcript.Reset()
	e.ephKey = nil
	e.state = StateInitialized
	e.established = false
	e.listening = false
	e.mu.Unlock()

	// Close on a separate goroutine: Clear may run on the endpoint's read
	// goroutine, which Close waits for.
	go func() {
		if err := e.endpoint.Close(); err != nil {
			e.log.Debugf("endpoint close: %v", err)
		}
	}()
}

// State returns the current handshake state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Established reports whether the handshake completed.
func (e *Engine) Established() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.established
}

// Resumed reports whether the session came from the abbreviated path.
func (e *Engine) Resumed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resumed
}

// LocalSessionID returns the session identifier this side allocated.
func (e *Engine) LocalSessionID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localSessionID
}

// PeerSessionID returns the session identifier the peer allocated.
func (e *Engine) PeerSessionID() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerSessionID
}

// PeerNodeID returns the authenticated peer node, zero before Sigma3 (or
// when credential verification is disabled on the responder).
func (e *Engine) PeerNodeID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerNodeID
}

// PeerMRPParams returns the reliability parameters the peer advertised, or
// nil.
func (e *Engine) PeerMRPParams() *MRPParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerMRPParams
}
