// Package kex implements the two key-exchange methods this implementation
// negotiates: RSA key transport (RFC 5246 section 7.4.7.1) and ephemeral
// ECDHE over the NIST curves (RFC 4492), wrapped around stdlib crypto/ecdh
// and crypto/rsa.
package kex

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/pzverkov/tlscore/internal/constants"
)

// ECDHEKeyPair is one side's ephemeral key-exchange keypair.
type ECDHEKeyPair struct {
	Curve      constants.NamedCurve
	PrivateKey *ecdh.PrivateKey
	PublicKey  *ecdh.PublicKey
}

func curveByID(id constants.NamedCurve) (ecdh.Curve, error) {
	switch id {
	case constants.CurveSECP256R1:
		return ecdh.P256(), nil
	case constants.CurveSECP384R1:
		return ecdh.P384(), nil
	case constants.CurveSECP521R1:
		return ecdh.P521(), nil
	default:
		return nil, fmt.Errorf("kex: unsupported named curve %d", id)
	}
}

// GenerateECDHEKeyPair generates a fresh ephemeral keypair on the given curve.
func GenerateECDHEKeyPair(curveID constants.NamedCurve) (*ECDHEKeyPair, error) {
	curve, err := curveByID(curveID)
	if err != nil {
		return nil, err
	}

	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("kex: generating ECDHE key pair: %w", err)
	}

	return &ECDHEKeyPair{Curve: curveID, PrivateKey: priv, PublicKey: priv.PublicKey()}, nil
}

// ParseECDHEPublicKey decodes a peer's EC point for the given curve
// (uncompressed point format, as this implementation offers only
// ec_point_formats: uncompressed).
func ParseECDHEPublicKey(curveID constants.NamedCurve, data []byte) (*ecdh.PublicKey, error) {
	curve, err := curveByID(curveID)
	if err != nil {
		return nil, err
	}
	pub, err := curve.NewPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("kex: parsing peer ECDHE public key: %w", err)
	}
	return pub, nil
}

// DeriveECDHE computes the shared x-coordinate secret (the ECDHE premaster
// secret, RFC 4492 section 5.10 — used directly as the premaster input to
// the master-secret PRF, with no further processing).
func DeriveECDHE(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	if priv == nil || peerPub == nil {
		return nil, fmt.Errorf("kex: nil key in ECDHE derivation")
	}
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("kex: ECDHE derivation failed: %w", err)
	}
	return secret, nil
}

// Zeroize drops the keypair's private scalar reference. crypto/ecdh does
// not expose the underlying bytes for explicit wiping.
func (kp *ECDHEKeyPair) Zeroize() {
	kp.PrivateKey = nil
	kp.PublicKey = nil
}

// EncryptPreMasterSecret wraps a 48-byte premaster secret (protocol version
// followed by 46 random bytes) with the server's RSA public key, for the
// RSA key-transport key exchange (RFC 5246 section 7.4.7.1).
func EncryptPreMasterSecret(pub *rsa.PublicKey, premaster []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, premaster)
	if err != nil {
		return nil, fmt.Errorf("kex: RSA premaster encryption failed: %w", err)
	}
	return ciphertext, nil
}

func serverKeyExchangeDigest(clientRandom, serverRandom, params []byte) []byte {
	h := sha256.New()
	h.Write(clientRandom)
	h.Write(serverRandom)
	h.Write(params)
	return h.Sum(nil)
}

// SignServerKeyExchange signs client_random || server_random || params with
// the server's RSA key (RFC 4492 section 5.4; RSASSA-PKCS1-v1_5 over
// SHA-256, the rsa_pkcs1_sha256 algorithm this implementation advertises).
func SignServerKeyExchange(priv *rsa.PrivateKey, clientRandom, serverRandom, params []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("kex: nil private key for server_key_exchange signature")
	}
	digest := serverKeyExchangeDigest(clientRandom, serverRandom, params)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
	if err != nil {
		return nil, fmt.Errorf("kex: signing server_key_exchange params: %w", err)
	}
	return sig, nil
}

// VerifyServerKeyExchange checks the server's signature over its ECDHE
// parameters against the public key from its leaf certificate.
func VerifyServerKeyExchange(pub *rsa.PublicKey, clientRandom, serverRandom, params, sig []byte) error {
	if pub == nil {
		return fmt.Errorf("kex: nil public key for server_key_exchange verification")
	}
	digest := serverKeyExchangeDigest(clientRandom, serverRandom, params)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
		return fmt.Errorf("kex: server_key_exchange signature does not verify: %w", err)
	}
	return nil
}

// DecryptPreMasterSecret unwraps an RSA-encrypted premaster secret.
//
// Per RFC 5246 section 7.4.7.1 and the Bleichenbacher countermeasure in
// Appendix D.4: a PKCS#1v1.5 padding or length failure here MUST NOT be
// reported to the client directly. Callers are expected to substitute a
// freshly generated random premaster secret on error and continue the
// handshake as if decryption had succeeded, deferring the failure to the
// Finished message MAC check (see pkg/handshake).
func DecryptPreMasterSecret(priv *rsa.PrivateKey, ciphertext []byte, expectedVersion constants.ProtocolVersion) ([]byte, error) {
	premaster, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kex: RSA premaster decryption failed: %w", err)
	}
	if len(premaster) != 48 || premaster[0] != expectedVersion.Major || premaster[1] != expectedVersion.Minor {
		return nil, fmt.Errorf("kex: premaster secret has unexpected length or version")
	}
	return premaster, nil
}
