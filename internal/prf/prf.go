// Package prf implements the TLS pseudo-random function (RFC 5246 section 5)
// and the derivations built on it: the master secret, the six-way key
// block, and Finished message verify_data.
//
// Two PRF variants exist in this protocol's version range: TLS 1.0/1.1
// split the secret between P_MD5 and P_SHA-1 and XOR their outputs;
// TLS 1.2 uses a single HMAC-SHA256-based P_hash. Picking the right one is
// the caller's job (constants.SuiteInfo.PRFIsSHA256 says which).
package prf

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"

	"github.com/pzverkov/tlscore/internal/constants"
)

// pHash implements P_hash(secret, seed) from RFC 5246 section 5: an
// expanding HMAC chain, truncated to length bytes.
func pHash(newHash func() hash.Hash, secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length)

	h := hmac.New(newHash, secret)
	h.Write(seed)
	a := h.Sum(nil)

	for len(out) < length {
		h := hmac.New(newHash, secret)
		h.Write(a)
		h.Write(seed)
		out = append(out, h.Sum(nil)...)

		h = hmac.New(newHash, secret)
		h.Write(a)
		a = h.Sum(nil)
	}
	return out[:length]
}

// prf10 is the TLS 1.0/1.1 PRF: the secret is split in half (both halves
// ceil(len/2) bytes, sharing the middle byte when secret has odd length), P_MD5 and P_SHA-1 are
// each run over the seed with one half, and the outputs are XORed.
func prf10(secret, label, seed []byte, length int) []byte {
	ls := append(append([]byte(nil), label...), seed...)

	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	md5Out := pHash(md5.New, s1, ls, length)
	sha1Out := pHash(sha1.New, s2, ls, length)

	out := make([]byte, length)
	for i := range out {
		out[i] = md5Out[i] ^ sha1Out[i]
	}
	return out
}

// prf12 is the TLS 1.2 PRF: a single P_SHA256 run over label||seed.
func prf12(secret, label, seed []byte, length int) []byte {
	ls := append(append([]byte(nil), label...), seed...)
	return pHash(sha256.New, secret, ls, length)
}

// Compute runs the appropriate PRF variant for the negotiated suite.
func Compute(sha256PRF bool, secret, label, seed []byte, length int) []byte {
	if sha256PRF {
		return prf12(secret, label, seed, length)
	}
	return prf10(secret, label, seed, length)
}

// MasterSecret derives the 48-byte master secret from the premaster secret
// and the hello randoms (RFC 5246 section 8.1).
func MasterSecret(sha256PRF bool, premaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte(nil), clientRandom...), serverRandom...)
	return Compute(sha256PRF, premaster, []byte(constants.LabelMasterSecret), seed, constants.MasterSecretSize)
}

// KeyBlockSizes describes how many bytes of key material each of the six
// key-block components needs, derived from a cipher suite's SuiteInfo.
type KeyBlockSizes struct {
	MACKeySize  int // 0 for AEAD suites, which carry no explicit MAC key
	EncKeySize  int
	FixedIVSize int
}

// KeyBlock holds the key block DeriveKeyBlock derives, sliced into
// client/server MAC, encryption key, and fixed-IV components, in the fixed
// wire order defined
// by RFC 5246 section 6.3: client_write_MAC, server_write_MAC,
// client_write_key, server_write_key, client_write_IV, server_write_IV.
type KeyBlock struct {
	ClientMACKey, ServerMACKey []byte
	ClientKey, ServerKey       []byte
	ClientIV, ServerIV         []byte
}

func DeriveKeyBlock(sha256PRF bool, masterSecret, serverRandom, clientRandom []byte, sizes KeyBlockSizes) KeyBlock {
	total := 2*sizes.MACKeySize + 2*sizes.EncKeySize + 2*sizes.FixedIVSize
	seed := append(append([]byte(nil), serverRandom...), clientRandom...)
	block := Compute(sha256PRF, masterSecret, []byte(constants.LabelKeyExpansion), seed, total)

	var kb KeyBlock
	off := 0
	next := func(n int) []byte {
		s := block[off : off+n]
		off += n
		return s
	}

	kb.ClientMACKey = next(sizes.MACKeySize)
	kb.ServerMACKey = next(sizes.MACKeySize)
	kb.ClientKey = next(sizes.EncKeySize)
	kb.ServerKey = next(sizes.EncKeySize)
	kb.ClientIV = next(sizes.FixedIVSize)
	kb.ServerIV = next(sizes.FixedIVSize)
	return kb
}

// VerifyData computes a Finished message's verify_data over the running
// transcript hash, using the role-specific label (RFC 5246 section 7.4.9).
func VerifyData(sha256PRF bool, masterSecret []byte, label string, transcriptHash []byte) []byte {
	return Compute(sha256PRF, masterSecret, []byte(label), transcriptHash, constants.VerifyDataSize)
}

// TranscriptHash hashes the handshake transcript with the hash the
// negotiated PRF uses: SHA-256 for TLS 1.2, or the MD5||SHA-1
// concatenation historically used by TLS 1.0/1.1 Finished messages.
func TranscriptHash(sha256PRF bool, transcript []byte) []byte {
	if sha256PRF {
		sum := sha256.Sum256(transcript)
		return sum[:]
	}
	md5Sum := md5.Sum(transcript)
	sha1Sum := sha1.Sum(transcript)
	return append(md5Sum[:], sha1Sum[:]...)
}
