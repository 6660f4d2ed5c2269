// Package certutil provides the minimal certificate handling this core
// needs: parsing a certificate chain and selecting the leaf for key
// extraction. It deliberately does not validate chains of trust; that is
// left to a collaborator above this layer.
package certutil

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// ParseChain parses each DER-encoded certificate in a certificate message,
// leaf first, without validating signatures or trust.
func ParseChain(ders [][]byte) ([]*x509.Certificate, error) {
	if len(ders) == 0 {
		return nil, fmt.Errorf("certutil: empty certificate chain")
	}
	certs := make([]*x509.Certificate, 0, len(ders))
	for i, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("certutil: parsing certificate %d: %w", i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Leaf returns the end-entity certificate: by convention the first
// certificate sent in a TLS Certificate message (RFC 5246 section 7.4.2).
func Leaf(ders [][]byte) (*x509.Certificate, error) {
	certs, err := ParseChain(ders)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// RSAPublicKey extracts the RSA public key from a leaf certificate, for
// the RSA key-transport key exchange.
func RSAPublicKey(leaf *x509.Certificate) (*rsa.PublicKey, error) {
	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certutil: leaf certificate does not carry an RSA public key")
	}
	return pub, nil
}
