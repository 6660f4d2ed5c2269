// Package tlscore implements the TLS 1.0-1.2 record and handshake layers
// (RFC 2246, RFC 4346, RFC 5246) as a transport-agnostic engine: record
// framing and fragmentation, the client/server handshake state machine,
// and the per-connection cryptographic session that derives and rotates
// key material.
//
// # Quick Start
//
// A server Engine over any io.ReadWriter, typically a net.Conn:
//
//	cfg := tlscore.DefaultConfig(tlscore.RoleServer)
//	cfg.Certificates = [][]byte{leafDER}
//	cfg.PrivateKey = serverKey
//
//	engine := tlscore.NewServer(conn, cfg)
//	if err := engine.Handshake(ctx); err != nil {
//		return err
//	}
//	msg, err := engine.Receive()
//
// A client Engine looks the same with tlscore.RoleClient and no key
// material configured.
//
// # Package Structure
//
//   - pkg/record: record-layer framing, handshake message framing and
//     reassembly, handshake message marshal/parse
//   - pkg/handshake: the client/server handshake state machine
//   - pkg/session: the cryptographic session (epochs, PRF, transcript)
//   - pkg/metrics: structured logging, tracing, health/readiness endpoints
//   - internal/constants: protocol constants and cipher suite table
//   - internal/alert: the TLS alert taxonomy as sentinel errors
//   - internal/recordcrypt: CBC and AEAD record protection
//   - internal/prf: the TLS 1.0-1.2 pseudo-random function
//   - internal/kex: ECDHE key exchange
//   - internal/certutil: certificate chain parsing (no trust validation)
//
// # Security Properties
//
//   - Negotiates TLS 1.0 through TLS 1.2 (no SSLv3 or TLS 1.3, no
//     downgrade-dance version fallback)
//   - RSA key-transport and ECDHE key exchange, with the Bleichenbacher
//     RFC 5246 Appendix D.4 countermeasure on the RSA path
//   - AES-CBC-HMAC, AES-GCM, and ChaCha20-Poly1305 record protection
//   - No certificate chain validation: callers that need it validate the
//     peer certificate surfaced through Engine.PeerCertificate themselves
//
// # Testing
//
//	go test ./...                           # All tests
//	go test -fuzz=FuzzParseRecord ./test/fuzz/
//	go test -bench=. ./test/benchmark
package tlscore
