// Package handshake implements the role-parameterized TLS handshake state
// machine: a client and a server transition table sharing one Machine
// type, driven by feeding it reassembled handshake frames and
// change_cipher_spec notifications and reading back the messages it wants
// sent in response.
//
// TLS's hello/certificate/key-exchange flight has optional messages
// (ServerKeyExchange, CertificateRequest) whose presence depends on the
// negotiated cipher suite and server policy. The client's single wait
// state for the server's flight consumes each of these messages as it
// arrives and advances only on ServerHelloDone, so every frame Step is
// given is either consumed or rejected with an error; see Disposition.
package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pzverkov/tlscore/internal/alert"
	"github.com/pzverkov/tlscore/internal/certutil"
	"github.com/pzverkov/tlscore/internal/constants"
	"github.com/pzverkov/tlscore/internal/kex"
	"github.com/pzverkov/tlscore/pkg/record"
	"github.com/pzverkov/tlscore/pkg/session"
)

// Disposition reports what a Machine did with a handshake frame passed to Step.
type Disposition int

const (
	// Accepted means the frame was consumed and the state advanced.
	Accepted Disposition = iota
	// Skip means the frame was not the one this wait state needed, but it
	// is not a protocol violation either. No transition of this Machine
	// returns it.
	Skip
	// Reject means the frame is a protocol violation. This Machine reports
	// violations through Step's error instead, which carries the alert to
	// send, alongside a zero StepResult.
	Reject
)

// Config holds the negotiable parameters and role-specific key material a
// Machine needs. Fields unused by a given role are ignored.
type Config struct {
	MinVersion, MaxVersion constants.ProtocolVersion
	CipherSuites           []constants.CipherSuite

	// Server-only.
	Certificates [][]byte // DER chain, leaf first
	PrivateKey   *rsa.PrivateKey

	Rand io.Reader
}

func (c Config) minVersion() constants.ProtocolVersion {
	if c.MinVersion == (constants.ProtocolVersion{}) {
		return constants.MinVersion
	}
	return c.MinVersion
}

func (c Config) maxVersion() constants.ProtocolVersion {
	if c.MaxVersion == (constants.ProtocolVersion{}) {
		return constants.MaxVersion
	}
	return c.MaxVersion
}

func (c Config) cipherSuites() []constants.CipherSuite {
	if len(c.CipherSuites) == 0 {
		return constants.DefaultCipherSuites()
	}
	return c.CipherSuites
}

// phase enumerates the wait states of the combined client/server table.
type phase int

const (
	phaseStart phase = iota
	phaseClientWaitServerHello
	phaseClientWaitServerFlight // certificate / server_key_exchange / certificate_request / server_hello_done
	phaseClientWaitChangeCipherSpec
	phaseClientWaitFinished
	phaseServerWaitClientHello
	phaseServerWaitClientKeyExchange
	phaseServerWaitChangeCipherSpec
	phaseServerWaitFinished
	phaseDone
)

// Machine is the handshake driver for one session. It owns no I/O: Step
// consumes frames the caller read off the wire and returns messages the
// caller must send, in order.
type Machine struct {
	Session *session.Session
	Config  Config

	phase      phase
	negotiated constants.SuiteInfo

	// server flight tracking (client side)
	gotCertificate        bool
	gotCertificateRequest bool
	peerLeaf              *x509.Certificate

	// ECDHE state
	ecdheSelf *kex.ECDHEKeyPair
	curve     constants.NamedCurve

	// The server's RSA public key from its certificate (client side only:
	// encrypts the premaster or verifies the server_key_exchange
	// signature; the server recovers the premaster with Config.PrivateKey)
	serverRSAPub *rsa.PublicKey

	// clientOfferedVersion is the version the client's hello carried: the
	// RSA premaster secret is prefixed with this (not the negotiated
	// version) as rollback protection, so both ends need it at key
	// exchange time.
	clientOfferedVersion constants.ProtocolVersion

	// Bleichenbacher deferral (RFC 5246 Appendix D.4): a server that
	// fails to decrypt/validate the client's RSA premaster secret must
	// not reveal that fact until Finished verification, to avoid a
	// padding oracle. deferredErr holds the failure until then.
	deferredErr error
}

// NewClient creates a Machine that will drive the client side of a handshake.
func NewClient(sess *session.Session, cfg Config) *Machine {
	return &Machine{Session: sess, Config: cfg, phase: phaseStart}
}

// NewServer creates a Machine that will drive the server side of a handshake.
func NewServer(sess *session.Session, cfg Config) *Machine {
	return &Machine{Session: sess, Config: cfg, phase: phaseServerWaitClientHello}
}

// Done reports whether the handshake has completed (Finished verified on both sides).
func (m *Machine) Done() bool { return m.phase == phaseDone }

// PeerLeaf returns the peer's leaf certificate, once a Certificate message
// has been processed. Only ever set on a client Machine: this core's
// server never requests a client certificate.
func (m *Machine) PeerLeaf() (*x509.Certificate, bool) {
	return m.peerLeaf, m.peerLeaf != nil
}

// Start produces the client's initial flight (ClientHello) for the client
// role. Callers must not call Start for a server Machine; the server's
// first action is always driven by an incoming ClientHello frame.
func (m *Machine) Start() ([][]byte, error) {
	if m.phase != phaseStart {
		return nil, fmt.Errorf("handshake: Start called out of order")
	}

	random, err := newHelloRandom(m.Config)
	if err != nil {
		return nil, err
	}
	m.Session.ClientRandom = random

	ch := &record.ClientHello{
		Version:      m.Config.maxVersion(),
		Random:       random,
		CipherSuites: m.Config.cipherSuites(),
		SupportedGroups: []constants.NamedCurve{
			constants.CurveSECP256R1, constants.CurveSECP384R1, constants.CurveSECP521R1,
		},
		SignatureAlgorithms: []uint16{0x0401, 0x0501, 0x0601}, // rsa_pkcs1_{sha256,sha384,sha512}
	}

	msg, err := m.emit(constants.HandshakeClientHello, ch.Marshal())
	if err != nil {
		return nil, err
	}
	m.phase = phaseClientWaitServerHello
	return [][]byte{msg}, nil
}

// emit marshals a handshake message, records it in the transcript, and
// returns the framed bytes ready to be sent in a handshake record.
func (m *Machine) emit(typ constants.HandshakeType, body []byte) ([]byte, error) {
	raw, err := record.EncodeHandshake(typ, body)
	if err != nil {
		return nil, err
	}
	m.Session.AddHandshakeMessage(raw)
	return raw, nil
}

// OutboundMessage is one handshake message the caller must frame and send.
// ChangeCipherSpecBefore reports that a change_cipher_spec record must be
// written immediately before this message, under the *old* write epoch,
// and the caller's write epoch activated (Session.ActivateWrite) only
// after that record goes out and before this message is encrypted — the
// Machine itself never touches wire ordering, since it owns no I/O.
type OutboundMessage struct {
	Raw                    []byte
	ChangeCipherSpecBefore bool
}

// Step feeds one reassembled handshake frame into the machine and returns
// any messages to send in response and this frame's disposition.
type StepResult struct {
	Disposition Disposition
	Outbound    []OutboundMessage
}

func (m *Machine) Step(frame record.Frame) (StepResult, error) {
	switch m.phase {
	case phaseClientWaitServerHello:
		return m.clientHandleServerHello(frame)
	case phaseClientWaitServerFlight:
		return m.clientHandleServerFlight(frame)
	case phaseClientWaitFinished:
		return m.clientHandleFinished(frame)
	case phaseServerWaitClientHello:
		return m.serverHandleClientHello(frame)
	case phaseServerWaitClientKeyExchange:
		return m.serverHandleClientKeyExchange(frame)
	case phaseServerWaitFinished:
		return m.serverHandleFinished(frame)
	default:
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: frame received in state %d that expects none", m.phase)
	}
}

// HandleChangeCipherSpec processes an incoming change_cipher_spec record,
// activating this side's read epoch.
func (m *Machine) HandleChangeCipherSpec() (StepResult, error) {
	switch m.phase {
	case phaseClientWaitChangeCipherSpec:
		if err := m.Session.ActivateRead(); err != nil {
			return StepResult{}, err
		}
		m.phase = phaseClientWaitFinished
		return StepResult{Disposition: Accepted}, nil
	case phaseServerWaitChangeCipherSpec:
		if err := m.Session.ActivateRead(); err != nil {
			return StepResult{}, err
		}
		m.phase = phaseServerWaitFinished
		return StepResult{Disposition: Accepted}, nil
	default:
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: unexpected change_cipher_spec in state %d", m.phase)
	}
}

func readRandom(cfg Config, out []byte) (int, error) {
	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	return io.ReadFull(r, out)
}

// newHelloRandom builds a hello random: 4 bytes of big-endian unix seconds
// followed by 28 random bytes (RFC 5246 section 7.4.1.2).
func newHelloRandom(cfg Config) ([constants.RandomSize]byte, error) {
	var random [constants.RandomSize]byte
	binary.BigEndian.PutUint32(random[:4], uint32(time.Now().Unix()))
	if _, err := readRandom(cfg, random[4:]); err != nil {
		return random, err
	}
	return random, nil
}

func rejectf(desc alert.Description, format string, args ...interface{}) error {
	return alert.Fatal(desc, fmt.Errorf(format, args...))
}

// --- Client-side transitions ---

func (m *Machine) clientHandleServerHello(frame record.Frame) (StepResult, error) {
	if frame.Type != constants.HandshakeServerHello {
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: expected server_hello, got %s", frame.Type)
	}
	sh, err := record.ParseServerHello(frame.Body)
	if err != nil {
		return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
	}
	if !constants.InRange(sh.Version) {
		return StepResult{}, rejectf(alert.DescProtocolVersion, "handshake: server selected unsupported version %s", sh.Version)
	}

	suite, ok := constants.Lookup(sh.CipherSuite)
	if !ok {
		return StepResult{}, rejectf(alert.DescHandshakeFailure, "handshake: server selected unknown cipher suite %#x", uint16(sh.CipherSuite))
	}
	if suite.MinVersion.Uint16() > sh.Version.Uint16() {
		return StepResult{}, rejectf(alert.DescIllegalParameter, "handshake: suite %s requires at least %s, server selected %s", suite.ID, suite.MinVersion, sh.Version)
	}
	m.negotiated = suite
	m.Session.Version = sh.Version
	m.Session.ServerRandom = sh.Random

	m.Session.AddHandshakeMessage(frame.Raw)
	m.phase = phaseClientWaitServerFlight
	return StepResult{Disposition: Accepted}, nil
}

func (m *Machine) clientHandleServerFlight(frame record.Frame) (StepResult, error) {
	switch frame.Type {
	case constants.HandshakeCertificate:
		if m.gotCertificate {
			return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: duplicate certificate message")
		}
		cert, err := record.ParseCertificateMsg(frame.Body)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
		}
		leaf, err := certutil.Leaf(cert.Certificates)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescBadCertificate, err)
		}
		// Every suite this core negotiates authenticates with RSA: the key
		// either encrypts the premaster (RSA key exchange) or verifies the
		// server_key_exchange signature (ECDHE).
		pub, err := certutil.RSAPublicKey(leaf)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescBadCertificate, err)
		}
		m.peerLeaf = leaf
		m.serverRSAPub = pub
		m.gotCertificate = true
		m.Session.AddHandshakeMessage(frame.Raw)
		return StepResult{Disposition: Accepted}, nil

	case constants.HandshakeServerKeyExchange:
		if m.negotiated.KeyExch != constants.KeyExchangeECDHE {
			return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: unexpected server_key_exchange for a non-ECDHE suite")
		}
		ske, err := record.ParseServerKeyExchangeECDHE(frame.Body)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
		}
		if m.serverRSAPub == nil {
			return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: server_key_exchange before certificate")
		}
		if err := kex.VerifyServerKeyExchange(m.serverRSAPub, m.Session.ClientRandom[:], m.Session.ServerRandom[:], ske.SignedParams(), ske.Signature); err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecryptError, err)
		}
		m.curve = ske.Curve
		peerPub, err := kex.ParseECDHEPublicKey(ske.Curve, ske.PublicKey)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescIllegalParameter, err)
		}
		selfKP, err := kex.GenerateECDHEKeyPair(ske.Curve)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		m.ecdheSelf = selfKP
		secret, err := kex.DeriveECDHE(selfKP.PrivateKey, peerPub)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		m.Session.DeriveMasterSecret(m.negotiated.PRFIsSHA256, secret)
		m.Session.AddHandshakeMessage(frame.Raw)
		return StepResult{Disposition: Accepted}, nil

	case constants.HandshakeCertificateRequest:
		// Client certificate authentication is not implemented; decode
		// the request and record that one was made. The client's
		// key-exchange flight carries no Certificate message in reply.
		if _, err := record.ParseCertificateRequest(frame.Body); err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
		}
		m.gotCertificateRequest = true
		m.Session.AddHandshakeMessage(frame.Raw)
		return StepResult{Disposition: Accepted}, nil

	case constants.HandshakeServerHelloDone:
		if !m.gotCertificate {
			return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: server_hello_done without a certificate")
		}
		m.Session.AddHandshakeMessage(frame.Raw)
		return m.clientSendKeyExchangeFlight()

	default:
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: unexpected message %s while awaiting server flight", frame.Type)
	}
}

// clientSendKeyExchangeFlight builds ClientKeyExchange, flags
// change_cipher_spec, and produces Finished in one return, since nothing
// here needs to wait on the network in between.
func (m *Machine) clientSendKeyExchangeFlight() (StepResult, error) {
	var outbound []OutboundMessage

	switch m.negotiated.KeyExch {
	case constants.KeyExchangeRSA:
		if m.serverRSAPub == nil {
			return StepResult{}, rejectf(alert.DescHandshakeFailure, "handshake: RSA key exchange requires the server's certificate")
		}
		offered := m.Config.maxVersion()
		premaster := make([]byte, 48)
		premaster[0], premaster[1] = offered.Major, offered.Minor
		if _, err := readRandom(m.Config, premaster[2:]); err != nil {
			return StepResult{}, err
		}
		ciphertext, err := kex.EncryptPreMasterSecret(m.serverRSAPub, premaster)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		cke := &record.ClientKeyExchangeRSA{EncryptedPreMasterSecret: ciphertext}
		msg, err := m.emit(constants.HandshakeClientKeyExchange, cke.Marshal())
		if err != nil {
			return StepResult{}, err
		}
		outbound = append(outbound, OutboundMessage{Raw: msg})
		m.Session.DeriveMasterSecret(m.negotiated.PRFIsSHA256, premaster)

	case constants.KeyExchangeECDHE:
		if m.ecdheSelf == nil {
			return StepResult{}, rejectf(alert.DescHandshakeFailure, "handshake: ECDHE key exchange requires a server_key_exchange")
		}
		cke := &record.ClientKeyExchangeECDHE{PublicKey: m.ecdheSelf.PublicKey.Bytes()}
		msg, err := m.emit(constants.HandshakeClientKeyExchange, cke.Marshal())
		if err != nil {
			return StepResult{}, err
		}
		outbound = append(outbound, OutboundMessage{Raw: msg})

	default:
		return StepResult{}, rejectf(alert.DescInternalError, "handshake: unknown key exchange algorithm")
	}

	// PrepareEpoch only installs the pending epoch (needed so VerifyData
	// below can read the negotiated PRF); it does not switch the write
	// epoch. The caller activates write — after physically sending the
	// change_cipher_spec this Finished message is flagged for — so the
	// ClientKeyExchange message above still goes out under the old epoch.
	if err := m.Session.PrepareEpoch(m.negotiated); err != nil {
		return StepResult{}, alert.Fatal(alert.DescInternalError, err)
	}

	verifyData := m.Session.VerifyData(constants.LabelClientFinished)
	finMsg, err := m.emit(constants.HandshakeFinished, (&record.Finished{VerifyData: verifyData}).Marshal())
	if err != nil {
		return StepResult{}, err
	}
	outbound = append(outbound, OutboundMessage{Raw: finMsg, ChangeCipherSpecBefore: true})

	m.phase = phaseClientWaitChangeCipherSpec
	return StepResult{Disposition: Accepted, Outbound: outbound}, nil
}

func (m *Machine) clientHandleFinished(frame record.Frame) (StepResult, error) {
	if frame.Type != constants.HandshakeFinished {
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: expected finished, got %s", frame.Type)
	}
	fin, err := record.ParseFinished(frame.Body)
	if err != nil {
		return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
	}
	want := m.Session.VerifyData(constants.LabelServerFinished)
	if !constantTimeEqual(fin.VerifyData, want) {
		return StepResult{}, alert.Fatal(alert.DescDecryptError, fmt.Errorf("handshake: server finished verify_data mismatch"))
	}
	m.Session.AddHandshakeMessage(frame.Raw)
	m.phase = phaseDone
	return StepResult{Disposition: Accepted}, nil
}

// --- Server-side transitions ---

func (m *Machine) serverHandleClientHello(frame record.Frame) (StepResult, error) {
	if frame.Type != constants.HandshakeClientHello {
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: expected client_hello, got %s", frame.Type)
	}
	ch, err := record.ParseClientHello(frame.Body)
	if err != nil {
		return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
	}
	m.Session.ClientRandom = ch.Random
	m.clientOfferedVersion = ch.Version
	m.Session.AddHandshakeMessage(frame.Raw)

	version := negotiateVersion(ch.Version, m.Config.minVersion(), m.Config.maxVersion())
	if version == (constants.ProtocolVersion{}) {
		return StepResult{}, rejectf(alert.DescProtocolVersion, "handshake: no overlapping version with client offer %s", ch.Version)
	}
	m.Session.Version = version

	suite, err := selectCipherSuite(ch.CipherSuites, m.Config.cipherSuites(), version)
	if err != nil {
		return StepResult{}, alert.Fatal(alert.DescHandshakeFailure, err)
	}
	m.negotiated = suite

	serverRandom, err := newHelloRandom(m.Config)
	if err != nil {
		return StepResult{}, err
	}
	m.Session.ServerRandom = serverRandom

	sh := &record.ServerHello{Version: version, Random: serverRandom, CipherSuite: suite.ID}
	shMsg, err := m.emit(constants.HandshakeServerHello, sh.Marshal())
	if err != nil {
		return StepResult{}, err
	}
	outbound := []OutboundMessage{{Raw: shMsg}}

	certMsg := &record.CertificateMsg{Certificates: m.Config.Certificates}
	cMsg, err := m.emit(constants.HandshakeCertificate, certMsg.Marshal())
	if err != nil {
		return StepResult{}, err
	}
	outbound = append(outbound, OutboundMessage{Raw: cMsg})

	if suite.KeyExch == constants.KeyExchangeECDHE {
		curve := constants.CurveSECP256R1
		kp, err := kex.GenerateECDHEKeyPair(curve)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		m.ecdheSelf = kp
		m.curve = curve

		ske := &record.ServerKeyExchangeECDHE{
			Curve:     curve,
			PublicKey: kp.PublicKey.Bytes(),
			SigAlg:    0x0401, // rsa_pkcs1_sha256
		}
		sig, err := kex.SignServerKeyExchange(m.Config.PrivateKey, m.Session.ClientRandom[:], m.Session.ServerRandom[:], ske.SignedParams())
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		ske.Signature = sig
		skeMsg, err := m.emit(constants.HandshakeServerKeyExchange, ske.Marshal())
		if err != nil {
			return StepResult{}, err
		}
		outbound = append(outbound, OutboundMessage{Raw: skeMsg})
	}

	doneMsg, err := m.emit(constants.HandshakeServerHelloDone, nil)
	if err != nil {
		return StepResult{}, err
	}
	outbound = append(outbound, OutboundMessage{Raw: doneMsg})

	m.phase = phaseServerWaitClientKeyExchange
	return StepResult{Disposition: Accepted, Outbound: outbound}, nil
}

func (m *Machine) serverHandleClientKeyExchange(frame record.Frame) (StepResult, error) {
	if frame.Type != constants.HandshakeClientKeyExchange {
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: expected client_key_exchange, got %s", frame.Type)
	}

	switch m.negotiated.KeyExch {
	case constants.KeyExchangeRSA:
		cke, err := record.ParseClientKeyExchangeRSA(frame.Body)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
		}
		premaster, err := kex.DecryptPreMasterSecret(m.Config.PrivateKey, cke.EncryptedPreMasterSecret, m.clientOfferedVersion)
		if err != nil {
			// Bleichenbacher countermeasure: substitute random premaster
			// material and keep going. The failure surfaces only if the
			// client's Finished verify_data consequently fails to match.
			m.deferredErr = err
			premaster = make([]byte, 48)
			_, _ = readRandom(m.Config, premaster)
			premaster[0], premaster[1] = m.clientOfferedVersion.Major, m.clientOfferedVersion.Minor
		}
		m.Session.DeriveMasterSecret(m.negotiated.PRFIsSHA256, premaster)

	case constants.KeyExchangeECDHE:
		cke, err := record.ParseClientKeyExchangeECDHE(frame.Body)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
		}
		peerPub, err := kex.ParseECDHEPublicKey(m.curve, cke.PublicKey)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescIllegalParameter, err)
		}
		secret, err := kex.DeriveECDHE(m.ecdheSelf.PrivateKey, peerPub)
		if err != nil {
			return StepResult{}, alert.Fatal(alert.DescInternalError, err)
		}
		m.Session.DeriveMasterSecret(m.negotiated.PRFIsSHA256, secret)

	default:
		return StepResult{}, rejectf(alert.DescInternalError, "handshake: unknown key exchange algorithm")
	}

	m.Session.AddHandshakeMessage(frame.Raw)
	if err := m.Session.PrepareEpoch(m.negotiated); err != nil {
		return StepResult{}, alert.Fatal(alert.DescInternalError, err)
	}

	m.phase = phaseServerWaitChangeCipherSpec
	return StepResult{Disposition: Accepted}, nil
}

func (m *Machine) serverHandleFinished(frame record.Frame) (StepResult, error) {
	if frame.Type != constants.HandshakeFinished {
		return StepResult{}, rejectf(alert.DescUnexpectedMessage, "handshake: expected finished, got %s", frame.Type)
	}
	fin, err := record.ParseFinished(frame.Body)
	if err != nil {
		return StepResult{}, alert.Fatal(alert.DescDecodeError, err)
	}

	// Run the verify_data comparison even when a deferred premaster failure
	// already dooms the handshake, so the two failure modes take the same
	// time (RFC 5246 Appendix D.4).
	want := m.Session.VerifyData(constants.LabelClientFinished)
	verified := constantTimeEqual(fin.VerifyData, want)
	if m.deferredErr != nil {
		return StepResult{}, alert.Fatal(alert.DescProtocolVersion, m.deferredErr)
	}
	if !verified {
		return StepResult{}, alert.Fatal(alert.DescDecryptError, fmt.Errorf("handshake: client finished verify_data mismatch"))
	}
	m.Session.AddHandshakeMessage(frame.Raw)

	// The pending epoch for this direction was already installed in
	// serverHandleClientKeyExchange; activation is the caller's job, timed
	// to when it physically writes the change_cipher_spec record this
	// Finished message is flagged for.
	verifyData := m.Session.VerifyData(constants.LabelServerFinished)
	finMsg, err := m.emit(constants.HandshakeFinished, (&record.Finished{VerifyData: verifyData}).Marshal())
	if err != nil {
		return StepResult{}, err
	}

	m.phase = phaseDone
	return StepResult{Disposition: Accepted, Outbound: []OutboundMessage{{Raw: finMsg, ChangeCipherSpecBefore: true}}}, nil
}

// --- helpers ---

func negotiateVersion(offered, min, max constants.ProtocolVersion) constants.ProtocolVersion {
	v := offered
	if v.Uint16() > max.Uint16() {
		v = max
	}
	if v.Uint16() < min.Uint16() {
		return constants.ProtocolVersion{}
	}
	return v
}

// selectCipherSuite walks the client's offer in order, returning the first
// suite both sides support whose MinVersion floor the negotiated version
// clears. A suite the version rules out falls through rather than failing,
// so a TLS 1.0 client offering GCM ahead of CBC still lands on CBC.
func selectCipherSuite(offered []constants.CipherSuite, supported []constants.CipherSuite, version constants.ProtocolVersion) (constants.SuiteInfo, error) {
	supportedSet := make(map[constants.CipherSuite]bool, len(supported))
	for _, cs := range supported {
		supportedSet[cs] = true
	}
	for _, cs := range offered {
		if supportedSet[cs] {
			if info, ok := constants.Lookup(cs); ok && info.MinVersion.Uint16() <= version.Uint16() {
				return info, nil
			}
		}
	}
	return constants.SuiteInfo{}, fmt.Errorf("handshake: no mutually supported cipher suite")
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
