// Package session implements the per-connection cryptographic epoch: the
// negotiated suite, the derived key material, the handshake transcript,
// and the read/write/pending "ownership triangle" that rotates in a new
// epoch when a change_cipher_spec is processed.
package session

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pzverkov/tlscore/internal/constants"
	"github.com/pzverkov/tlscore/internal/prf"
	"github.com/pzverkov/tlscore/internal/recordcrypt"
)

// Role identifies which side of the handshake this session plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// epoch is one cryptographic state: a negotiated suite and its derived
// read/write ciphers, paired with independent sequence counters. The
// "null" epoch (Suite.ID == 0) has nil ciphers and passes records through
// unencrypted, matching the pre-handshake state of a connection.
type epoch struct {
	suite       constants.SuiteInfo
	readCipher  recordcrypt.Cipher
	writeCipher recordcrypt.Cipher
	readSeq     atomic.Uint64
	writeSeq    atomic.Uint64
}

func nullEpoch() *epoch { return &epoch{} }

// Session owns one connection's cryptographic state: version, suite,
// master secret, the three-slot read/write/pending epoch triangle
// described in the package doc, and the transcript of every handshake
// message exchanged so far (for Finished verify_data and, later,
// certificate_verify if it were implemented).
type Session struct {
	Role    Role
	Version constants.ProtocolVersion

	mu sync.RWMutex

	masterSecret []byte

	// suite is the negotiated suite, set by PrepareEpoch. It outlives the
	// pending slot (which collapses once both directions activate) because
	// the transcript hash and verify_data PRF choice still depend on it
	// when the peer's Finished arrives after both cipher switches.
	suite constants.SuiteInfo

	read    *epoch
	write   *epoch
	pending *epoch

	ClientRandom [constants.RandomSize]byte
	ServerRandom [constants.RandomSize]byte

	transcript bytes.Buffer

	state       atomic.Int32 // mirrors the handshake phase for observability only
	bytesSent   atomic.Uint64
	bytesRecv   atomic.Uint64
	recordsSent atomic.Uint64
	recordsRecv atomic.Uint64
}

// New creates a session in its initial, pre-handshake plaintext epoch.
func New(role Role) *Session {
	null := nullEpoch()
	return &Session{
		Role:  role,
		read:  null,
		write: null,
	}
}

// AddHandshakeMessage appends one handshake message's raw bytes (header +
// body) to the transcript. hello_request is never recorded, per RFC 5246
// section 7.4.1.1.
func (s *Session) AddHandshakeMessage(raw []byte) {
	if len(raw) > 0 && constants.HandshakeType(raw[0]) == constants.HandshakeHelloRequest {
		return
	}
	s.mu.Lock()
	s.transcript.Write(raw)
	s.mu.Unlock()
}

// TranscriptHash returns the running hash of the transcript so far, using
// the hash family implied by the negotiated suite's PRF.
func (s *Session) TranscriptHash() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := append([]byte(nil), s.transcript.Bytes()...)
	return prf.TranscriptHash(s.suite.PRFIsSHA256, snapshot)
}

// DeriveMasterSecret computes and stores the master secret from a
// premaster secret and the hello randoms (RFC 5246 section 8.1).
func (s *Session) DeriveMasterSecret(sha256PRF bool, premaster []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterSecret = prf.MasterSecret(sha256PRF, premaster, s.ClientRandom[:], s.ServerRandom[:])
}

// VerifyData computes this side's Finished verify_data for the given role label.
func (s *Session) VerifyData(label string) []byte {
	s.mu.RLock()
	sha256PRF := s.suite.PRFIsSHA256
	masterSecret := append([]byte(nil), s.masterSecret...)
	s.mu.RUnlock()
	return prf.VerifyData(sha256PRF, masterSecret, label, s.TranscriptHash())
}

// PrepareEpoch derives a fresh key block for suite from the stored master
// secret and installs it as the pending epoch, ready to be activated by
// ActivateRead/ActivateWrite when a change_cipher_spec is processed in
// each direction.
func (s *Session) PrepareEpoch(suite constants.SuiteInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.masterSecret) == 0 {
		return fmt.Errorf("session: cannot prepare epoch before master secret is derived")
	}

	sizes := prf.KeyBlockSizes{EncKeySize: suite.KeySize, FixedIVSize: suite.IVSize}
	if suite.Type == constants.CipherTypeBlock {
		sizes.MACKeySize = suite.MACSize
	}
	kb := prf.DeriveKeyBlock(suite.PRFIsSHA256, s.masterSecret, s.ServerRandom[:], s.ClientRandom[:], sizes)

	clientCipher, err := recordcrypt.New(suite, kb.ClientMACKey, kb.ClientKey, kb.ClientIV, s.Version)
	if err != nil {
		return fmt.Errorf("session: preparing client direction cipher: %w", err)
	}
	serverCipher, err := recordcrypt.New(suite, kb.ServerMACKey, kb.ServerKey, kb.ServerIV, s.Version)
	if err != nil {
		return fmt.Errorf("session: preparing server direction cipher: %w", err)
	}

	e := &epoch{suite: suite}
	if s.Role == RoleClient {
		e.writeCipher, e.readCipher = clientCipher, serverCipher
	} else {
		e.writeCipher, e.readCipher = serverCipher, clientCipher
	}

	s.suite = suite
	s.pending = e
	return nil
}

// ActivateRead switches the read slot to the pending epoch, as happens
// when this side receives a peer's change_cipher_spec. If the write slot
// already aliases the same pending epoch, the triangle collapses: both
// slots now point at one epoch and pending is cleared, since there is
// nothing left to promote.
func (s *Session) ActivateRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return fmt.Errorf("session: no pending epoch to activate for read")
	}
	s.read = s.pending
	s.collapseLocked()
	return nil
}

// ActivateWrite switches the write slot to the pending epoch, as happens
// when this side sends its own change_cipher_spec.
func (s *Session) ActivateWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return fmt.Errorf("session: no pending epoch to activate for write")
	}
	s.write = s.pending
	s.collapseLocked()
	return nil
}

func (s *Session) collapseLocked() {
	if s.read == s.pending && s.write == s.pending {
		s.pending = nil
	}
}

// Encrypt protects a plaintext record fragment of content type typ using
// the current write epoch and advances its write sequence number.
func (s *Session) Encrypt(typ constants.ContentType, plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	e := s.write
	s.mu.RUnlock()

	if e.writeCipher == nil {
		s.bytesSent.Add(uint64(len(plaintext)))
		s.recordsSent.Add(1)
		return plaintext, nil
	}

	seq := e.writeSeq.Add(1) - 1
	body, err := e.writeCipher.Seal(seq, typ, s.Version, plaintext)
	if err != nil {
		return nil, err
	}
	s.bytesSent.Add(uint64(len(plaintext)))
	s.recordsSent.Add(1)
	return body, nil
}

// Decrypt authenticates and unprotects a record fragment using the
// current read epoch, advancing its read sequence number. seq ordering is
// strict: records must arrive in sequence, so the caller never supplies a
// sequence number explicitly — Decrypt derives it from the read epoch's
// own counter, unlike an out-of-order-tolerant datagram protocol.
func (s *Session) Decrypt(typ constants.ContentType, body []byte) ([]byte, error) {
	s.mu.RLock()
	e := s.read
	s.mu.RUnlock()

	if e.readCipher == nil {
		s.bytesRecv.Add(uint64(len(body)))
		s.recordsRecv.Add(1)
		return body, nil
	}

	seq := e.readSeq.Add(1) - 1
	plaintext, err := e.readCipher.Open(seq, typ, s.Version, body)
	if err != nil {
		return nil, err
	}
	s.bytesRecv.Add(uint64(len(plaintext)))
	s.recordsRecv.Add(1)
	return plaintext, nil
}

// State returns the last handshake state value recorded via SetState, for
// observers; the session itself attaches no meaning to it.
func (s *Session) State() int32 { return s.state.Load() }

// SetState records the current handshake state for observability.
func (s *Session) SetState(v int32) { s.state.Store(v) }

// PendingSuite reports the suite awaiting activation, if any.
func (s *Session) PendingSuite() (constants.SuiteInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return constants.SuiteInfo{}, false
	}
	return s.pending.suite, true
}

// ActiveReadSuite reports the suite currently protecting inbound records.
func (s *Session) ActiveReadSuite() (constants.SuiteInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.read.readCipher == nil {
		return constants.SuiteInfo{}, false
	}
	return s.read.suite, true
}

// Stats is a point-in-time snapshot of a session's traffic counters.
type Stats struct {
	BytesSent       uint64
	BytesReceived   uint64
	RecordsSent     uint64
	RecordsReceived uint64
}

// Stats returns a snapshot of this session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesRecv.Load(),
		RecordsSent:     s.recordsSent.Load(),
		RecordsReceived: s.recordsRecv.Load(),
	}
}

// Close zeroizes the master secret. The epochs themselves are dropped with
// the session; Go's GC reclaims the key bytes, there being no portable way
// to guarantee in-place zeroization of a crypto/ecdh or AEAD cipher's
// internal state from outside the stdlib package.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.masterSecret {
		s.masterSecret[i] = 0
	}
	s.masterSecret = nil
}
