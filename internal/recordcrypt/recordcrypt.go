// Package recordcrypt implements the TLS record protection layer (RFC 5246
// section 6.2.3): CBC-mode MAC-then-pad-then-encrypt for block ciphers, and
// AEAD seal/open for GCM and ChaCha20-Poly1305 suites.
//
// Both cipher families satisfy the same Cipher interface so the session
// layer never needs to know which one is active.
package recordcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pzverkov/tlscore/internal/constants"
)

// Cipher protects and unprotects one direction (read or write) of a
// session's record stream for a single cipher suite.
type Cipher interface {
	// Seal protects a plaintext fragment into a record body (MAC/tag and
	// any explicit IV included), given the sequence number, content type,
	// and record version that go into the MAC/AAD per RFC 5246 section 6.2.3.1.
	Seal(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts a record body into its plaintext fragment.
	Open(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, body []byte) ([]byte, error)

	// Overhead is the number of bytes Seal adds beyond the plaintext length.
	Overhead() int
}

// New constructs the Cipher for one direction from a negotiated suite, its
// derived key material, and the session's negotiated protocol version.
// version governs only the CBC record_iv_length choice: explicit
// per-record IVs for TLS >= 1.1, chained IV for TLS 1.0 — a suite like
// TLS_RSA_WITH_AES_128_CBC_SHA is usable across that whole range, so this
// must come from the negotiated session version, never from the suite's
// own MinVersion floor.
func New(info constants.SuiteInfo, macKey, key, iv []byte, version constants.ProtocolVersion) (Cipher, error) {
	switch info.Type {
	case constants.CipherTypeBlock:
		return newCBCCipher(info, macKey, key, iv, version)
	case constants.CipherTypeAEAD:
		return newAEADCipher(info, key, iv)
	default:
		return nil, fmt.Errorf("recordcrypt: unknown cipher type for suite %s", info.ID)
	}
}

func seqTypeVersionHeader(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, length int) []byte {
	hdr := make([]byte, 13)
	binary.BigEndian.PutUint64(hdr[0:8], seq)
	hdr[8] = byte(typ)
	hdr[9] = ver.Major
	hdr[10] = ver.Minor
	binary.BigEndian.PutUint16(hdr[11:13], uint16(length))
	return hdr
}

// --- CBC ---

type cbcCipher struct {
	block   cipher.Block
	macKey  []byte
	macSize int
	newHash func() hash.Hash
	blockSz int
	version constants.ProtocolVersion

	mu      sync.Mutex
	chained []byte // TLS 1.0 only: chains the IV across records within a direction
}

func newCBCCipher(info constants.SuiteInfo, macKey, key, iv []byte, version constants.ProtocolVersion) (*cbcCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("recordcrypt: %w", err)
	}

	var newHash func() hash.Hash
	switch info.MAC {
	case constants.MACSHA1:
		newHash = sha1.New
	case constants.MACSHA256:
		newHash = sha256.New
	default:
		return nil, fmt.Errorf("recordcrypt: unsupported MAC for CBC suite %s", info.ID)
	}

	c := &cbcCipher{
		block:   block,
		macKey:  macKey,
		macSize: info.MACSize,
		newHash: newHash,
		blockSz: block.BlockSize(),
		version: version,
	}
	if len(iv) == block.BlockSize() {
		c.chained = append([]byte(nil), iv...)
	}
	return c, nil
}

func (c *cbcCipher) mac(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, plaintext []byte) []byte {
	h := hmac.New(c.newHash, c.macKey)
	h.Write(seqTypeVersionHeader(seq, typ, ver, len(plaintext)))
	h.Write(plaintext)
	return h.Sum(nil)
}

func (c *cbcCipher) Overhead() int {
	// MAC + at most one full block of padding + (explicit IV for TLS >= 1.1).
	explicitIV := 0
	if c.version != constants.VersionTLS10 {
		explicitIV = c.blockSz
	}
	return c.macSize + c.blockSz + explicitIV
}

func (c *cbcCipher) Seal(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, plaintext []byte) ([]byte, error) {
	mac := c.mac(seq, typ, ver, plaintext)

	data := append(append([]byte(nil), plaintext...), mac...)
	padLen := (c.blockSz - (len(data)+1)%c.blockSz) % c.blockSz
	padding := make([]byte, padLen+1)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	data = append(data, padding...)

	iv, err := c.sealIV()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, data)

	if c.version == constants.VersionTLS10 {
		c.mu.Lock()
		c.chained = append([]byte(nil), out[len(out)-c.blockSz:]...)
		c.mu.Unlock()
		return out, nil
	}
	return append(append([]byte(nil), iv...), out...), nil
}

// sealIV returns the IV to use for the next CBC block: a fresh random IV
// for TLS >= 1.1 (sent explicitly on the wire), or the chained IV carried
// over from the previous record for TLS 1.0.
func (c *cbcCipher) sealIV() ([]byte, error) {
	if c.version != constants.VersionTLS10 {
		iv := make([]byte, c.blockSz)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("recordcrypt: generating explicit IV: %w", err)
		}
		return iv, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.chained...), nil
}

func (c *cbcCipher) Open(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, body []byte) ([]byte, error) {
	var iv, ciphertext []byte

	if c.version != constants.VersionTLS10 {
		if len(body) < c.blockSz {
			return nil, fmt.Errorf("recordcrypt: record too short for explicit IV")
		}
		iv, ciphertext = body[:c.blockSz], body[c.blockSz:]
	} else {
		c.mu.Lock()
		iv = append([]byte(nil), c.chained...)
		c.mu.Unlock()
		ciphertext = body
	}

	if len(ciphertext) == 0 || len(ciphertext)%c.blockSz != 0 {
		return nil, fmt.Errorf("recordcrypt: ciphertext not a multiple of the block size")
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ciphertext)

	if c.version == constants.VersionTLS10 {
		c.mu.Lock()
		c.chained = append([]byte(nil), ciphertext[len(ciphertext)-c.blockSz:]...)
		c.mu.Unlock()
	}

	// Constant-time padding removal and MAC check: walk the buffer at a
	// fixed cost regardless of the true padding length or MAC validity, so
	// a network attacker cannot distinguish "bad padding" from "bad MAC"
	// by timing (the classic CBC padding-oracle, RFC 5246 section 6.2.3.2).
	return c.unpadAndVerify(seq, typ, ver, plain)
}

func (c *cbcCipher) unpadAndVerify(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, plain []byte) ([]byte, error) {
	if len(plain) < c.macSize+1 {
		return nil, fmt.Errorf("recordcrypt: record too short to contain a MAC")
	}

	padLen := int(plain[len(plain)-1])
	goodPad := 1
	if padLen+1 > len(plain)-c.macSize {
		goodPad = 0
		padLen = 0 // avoid slicing out of range below; result is discarded anyway
	}
	for i := 0; i < 255; i++ {
		var b byte
		if i < padLen+1 && len(plain)-1-i >= 0 {
			b = plain[len(plain)-1-i]
		}
		eq := subtle.ConstantTimeByteEq(b, byte(padLen))
		inRange := 0
		if i <= padLen {
			inRange = 1
		}
		goodPad &= eq | (1 - inRange)
	}

	contentLen := len(plain) - c.macSize - (padLen + 1)
	if contentLen < 0 {
		contentLen = 0
	}
	content := plain[:contentLen]
	gotMAC := plain[contentLen : contentLen+c.macSize]
	if contentLen+c.macSize > len(plain) {
		gotMAC = plain[:0]
	}

	wantMAC := c.mac(seq, typ, ver, content)

	macOK := subtle.ConstantTimeCompare(wantMAC, gotMAC)
	if goodPad&macOK != 1 {
		return nil, fmt.Errorf("recordcrypt: bad record MAC")
	}
	return content, nil
}

// --- AEAD ---

type aeadCipher struct {
	aead     cipher.AEAD
	fixedIV  []byte
	implicit bool // true selects RFC 7905 nonce derivation (ChaCha20-Poly1305); false appends an explicit 8-byte nonce (RFC 5288 GCM)
}

func newAEADCipher(info constants.SuiteInfo, key, fixedIV []byte) (*aeadCipher, error) {
	var aead cipher.AEAD
	var err error
	implicit := false

	switch info.Cipher {
	case constants.BulkCipherAES128GCM, constants.BulkCipherAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case constants.BulkCipherChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
		implicit = true
	default:
		return nil, fmt.Errorf("recordcrypt: unsupported AEAD suite %s", info.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("recordcrypt: %w", err)
	}

	return &aeadCipher{aead: aead, fixedIV: fixedIV, implicit: implicit}, nil
}

func (a *aeadCipher) nonce(seq uint64) []byte {
	nonce := make([]byte, a.aead.NonceSize())
	copy(nonce, a.fixedIV)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= seqBytes[i]
	}
	return nonce
}

func (a *aeadCipher) Overhead() int {
	if a.implicit {
		return a.aead.Overhead()
	}
	return 8 + a.aead.Overhead()
}

func (a *aeadCipher) Seal(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, plaintext []byte) ([]byte, error) {
	nonce := a.nonce(seq)
	aad := seqTypeVersionHeader(seq, typ, ver, len(plaintext))[8:] // type || version || length, per RFC 5246 section 6.2.3.3 (AEAD AAD excludes the sequence number's own bytes from the wire but includes it in the MAC input)
	aad = append(append([]byte(nil), encodeSeq(seq)...), aad...)

	sealed := a.aead.Seal(nil, nonce, plaintext, aad)
	if a.implicit {
		return sealed, nil
	}
	explicit := nonce[len(nonce)-8:]
	return append(append([]byte(nil), explicit...), sealed...), nil
}

func (a *aeadCipher) Open(seq uint64, typ constants.ContentType, ver constants.ProtocolVersion, body []byte) ([]byte, error) {
	var nonce, ciphertext []byte
	if a.implicit {
		nonce = a.nonce(seq)
		ciphertext = body
	} else {
		if len(body) < 8 {
			return nil, fmt.Errorf("recordcrypt: record too short for explicit nonce")
		}
		nonce = append(append([]byte(nil), a.fixedIV...), body[:8]...)
		ciphertext = body[8:]
	}

	aadLen := len(ciphertext) - a.aead.Overhead()
	if aadLen < 0 {
		aadLen = 0
	}
	aad := append(append([]byte(nil), encodeSeq(seq)...), seqTypeVersionHeader(seq, typ, ver, aadLen)[8:]...)

	plaintext, err := a.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("recordcrypt: bad record MAC: %w", err)
	}
	return plaintext, nil
}

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}
