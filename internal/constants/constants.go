// Package constants defines the wire-level parameters of the TLS 1.0-1.2
// record and handshake protocol: protocol versions, content types, handshake
// message tags, the cipher suite registry, and alert descriptions.
package constants

// ProtocolVersion identifies the major.minor version of a record or hello
// message, encoded as {major, minor} on the wire (RFC 5246 section 6.1).
type ProtocolVersion struct {
	Major, Minor uint8
}

// Uint16 returns the version as it appears on the wire: major<<8 | minor.
func (v ProtocolVersion) Uint16() uint16 {
	return uint16(v.Major)<<8 | uint16(v.Minor)
}

// String returns the conventional TLS name for the version.
func (v ProtocolVersion) String() string {
	switch v {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	default:
		return "unknown"
	}
}

// Supported protocol versions. SSLv3 and TLS 1.3 are out of scope.
var (
	VersionTLS10 = ProtocolVersion{3, 1}
	VersionTLS11 = ProtocolVersion{3, 2}
	VersionTLS12 = ProtocolVersion{3, 3}
)

// MinVersion and MaxVersion bound the range this implementation negotiates.
var (
	MinVersion = VersionTLS10
	MaxVersion = VersionTLS12
)

// InRange reports whether v falls within [MinVersion, MaxVersion].
func InRange(v ProtocolVersion) bool {
	lo, hi := MinVersion.Uint16(), MaxVersion.Uint16()
	n := v.Uint16()
	return n >= lo && n <= hi
}

// ContentType identifies the payload carried by a record (RFC 5246 section 6.2.1).
type ContentType uint8

const (
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeChangeCipherSpec:
		return "change_cipher_spec"
	case ContentTypeAlert:
		return "alert"
	case ContentTypeHandshake:
		return "handshake"
	case ContentTypeApplicationData:
		return "application_data"
	default:
		return "unknown"
	}
}

// HandshakeType identifies the type of a handshake message (RFC 5246 section 7.4).
type HandshakeType uint8

const (
	HandshakeHelloRequest       HandshakeType = 0
	HandshakeClientHello        HandshakeType = 1
	HandshakeServerHello        HandshakeType = 2
	HandshakeCertificate        HandshakeType = 11
	HandshakeServerKeyExchange  HandshakeType = 12
	HandshakeCertificateRequest HandshakeType = 13
	HandshakeServerHelloDone    HandshakeType = 14
	HandshakeCertificateVerify  HandshakeType = 15
	HandshakeClientKeyExchange  HandshakeType = 16
	HandshakeFinished           HandshakeType = 20
)

func (h HandshakeType) String() string {
	switch h {
	case HandshakeHelloRequest:
		return "hello_request"
	case HandshakeClientHello:
		return "client_hello"
	case HandshakeServerHello:
		return "server_hello"
	case HandshakeCertificate:
		return "certificate"
	case HandshakeServerKeyExchange:
		return "server_key_exchange"
	case HandshakeCertificateRequest:
		return "certificate_request"
	case HandshakeServerHelloDone:
		return "server_hello_done"
	case HandshakeCertificateVerify:
		return "certificate_verify"
	case HandshakeClientKeyExchange:
		return "client_key_exchange"
	case HandshakeFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Record and handshake framing sizes.
const (
	// RecordHeaderSize is the 5-byte record header: type(1) | version(2) | length(2).
	RecordHeaderSize = 5

	// HandshakeHeaderSize is the 4-byte handshake message header: type(1) | length(3).
	HandshakeHeaderSize = 4

	// MaxRecordPayload is the largest plaintext record fragment RFC 5246 allows (2^14 bytes).
	MaxRecordPayload = 1 << 14

	// MaxCiphertextRecordPayload is the largest on-wire fragment RFC 5246
	// section 6.2.3 allows once a cipher's expansion (block padding, MAC,
	// explicit IV, or AEAD tag) is added: 2^14 + 2048 bytes. A record
	// exceeding this is a record_overflow, not merely oversized plaintext.
	MaxCiphertextRecordPayload = MaxRecordPayload + 2048

	// MaxHandshakeMessageSize bounds a single reassembled handshake message.
	MaxHandshakeMessageSize = 1 << 24

	// RandomSize is the size of the client_random/server_random fields.
	RandomSize = 32

	// MasterSecretSize is the size of the derived master secret.
	MasterSecretSize = 48

	// VerifyDataSize is the size of the Finished message's verify_data.
	VerifyDataSize = 12

	// MaxSessionIDSize bounds the session_id field carried in hellos (unused
	// by this implementation beyond framing, since resumption is out of scope).
	MaxSessionIDSize = 32
)

// Compression methods negotiable in the hellos (RFC 5246 section 6.2.2,
// RFC 3749). Only null is required; deflate may be negotiated but this
// implementation never applies it to records.
const (
	CompressionNull    uint8 = 0
	CompressionDeflate uint8 = 1
)

// KeyExchangeAlgorithm identifies how the premaster secret is established.
type KeyExchangeAlgorithm uint8

const (
	KeyExchangeRSA   KeyExchangeAlgorithm = iota // RFC 5246 section 7.4.7.1
	KeyExchangeECDHE                             // RFC 4492
)

// BulkCipherAlgorithm identifies the record-layer symmetric cipher family.
type BulkCipherAlgorithm uint8

const (
	BulkCipherAES128CBC BulkCipherAlgorithm = iota
	BulkCipherAES256CBC
	BulkCipherAES128GCM
	BulkCipherAES256GCM
	BulkCipherChaCha20Poly1305
)

// CipherType distinguishes block (CBC, needs MAC-then-encrypt) from AEAD suites.
type CipherType uint8

const (
	CipherTypeBlock CipherType = iota
	CipherTypeAEAD
)

// MACAlgorithm identifies the record MAC used by CBC suites.
type MACAlgorithm uint8

const (
	MACNone MACAlgorithm = iota
	MACSHA1
	MACSHA256
)

// CipherSuite is the 16-bit wire identifier negotiated in client/server hello,
// as registered by IANA for TLS (RFC 5246 Appendix A.5, RFC 5289, RFC 7905).
type CipherSuite uint16

const (
	TLS_RSA_WITH_AES_128_CBC_SHA                CipherSuite = 0x002F
	TLS_RSA_WITH_AES_256_CBC_SHA                CipherSuite = 0x0035
	TLS_RSA_WITH_AES_128_CBC_SHA256             CipherSuite = 0x003C
	TLS_RSA_WITH_AES_256_CBC_SHA256             CipherSuite = 0x003D
	TLS_RSA_WITH_AES_128_GCM_SHA256             CipherSuite = 0x009C
	TLS_RSA_WITH_AES_256_GCM_SHA384             CipherSuite = 0x009D
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA          CipherSuite = 0xC013
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA          CipherSuite = 0xC014
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256       CipherSuite = 0xC02F
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384       CipherSuite = 0xC030
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256 CipherSuite = 0xCCA8
)

// SuiteInfo describes everything the session needs to realize a cipher suite:
// key exchange, bulk cipher, key/IV sizes, MAC, and the PRF hash it implies.
type SuiteInfo struct {
	ID          CipherSuite
	KeyExch     KeyExchangeAlgorithm
	Cipher      BulkCipherAlgorithm
	Type        CipherType
	KeySize     int
	IVSize      int // fixed IV/nonce size for AEAD; block size for CBC
	MAC         MACAlgorithm
	MACSize     int
	PRFIsSHA256 bool // true selects the TLS 1.2 HMAC-SHA256 PRF; false selects MD5+SHA1
	MinVersion  ProtocolVersion
}

// suiteRegistry is the authoritative table of cipher suites this
// implementation can negotiate, keyed by wire id.
var suiteRegistry = map[CipherSuite]SuiteInfo{
	TLS_RSA_WITH_AES_128_CBC_SHA: {
		ID: TLS_RSA_WITH_AES_128_CBC_SHA, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES128CBC,
		Type: CipherTypeBlock, KeySize: 16, IVSize: 16, MAC: MACSHA1, MACSize: 20,
		MinVersion: VersionTLS10,
	},
	TLS_RSA_WITH_AES_256_CBC_SHA: {
		ID: TLS_RSA_WITH_AES_256_CBC_SHA, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES256CBC,
		Type: CipherTypeBlock, KeySize: 32, IVSize: 16, MAC: MACSHA1, MACSize: 20,
		MinVersion: VersionTLS10,
	},
	TLS_RSA_WITH_AES_128_CBC_SHA256: {
		ID: TLS_RSA_WITH_AES_128_CBC_SHA256, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES128CBC,
		Type: CipherTypeBlock, KeySize: 16, IVSize: 16, MAC: MACSHA256, MACSize: 32,
		PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_RSA_WITH_AES_256_CBC_SHA256: {
		ID: TLS_RSA_WITH_AES_256_CBC_SHA256, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES256CBC,
		Type: CipherTypeBlock, KeySize: 32, IVSize: 16, MAC: MACSHA256, MACSize: 32,
		PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_RSA_WITH_AES_128_GCM_SHA256: {
		ID: TLS_RSA_WITH_AES_128_GCM_SHA256, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES128GCM,
		Type: CipherTypeAEAD, KeySize: 16, IVSize: 4, PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_RSA_WITH_AES_256_GCM_SHA384: {
		ID: TLS_RSA_WITH_AES_256_GCM_SHA384, KeyExch: KeyExchangeRSA, Cipher: BulkCipherAES256GCM,
		Type: CipherTypeAEAD, KeySize: 32, IVSize: 4, PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA: {
		ID: TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA, KeyExch: KeyExchangeECDHE, Cipher: BulkCipherAES128CBC,
		Type: CipherTypeBlock, KeySize: 16, IVSize: 16, MAC: MACSHA1, MACSize: 20,
		MinVersion: VersionTLS10,
	},
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA: {
		ID: TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA, KeyExch: KeyExchangeECDHE, Cipher: BulkCipherAES256CBC,
		Type: CipherTypeBlock, KeySize: 32, IVSize: 16, MAC: MACSHA1, MACSize: 20,
		MinVersion: VersionTLS10,
	},
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256: {
		ID: TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, KeyExch: KeyExchangeECDHE, Cipher: BulkCipherAES128GCM,
		Type: CipherTypeAEAD, KeySize: 16, IVSize: 4, PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384: {
		ID: TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, KeyExch: KeyExchangeECDHE, Cipher: BulkCipherAES256GCM,
		Type: CipherTypeAEAD, KeySize: 32, IVSize: 4, PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256: {
		ID: TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256, KeyExch: KeyExchangeECDHE, Cipher: BulkCipherChaCha20Poly1305,
		Type: CipherTypeAEAD, KeySize: 32, IVSize: 12, PRFIsSHA256: true, MinVersion: VersionTLS12,
	},
}

// Lookup returns the SuiteInfo for id and whether this implementation supports it.
func Lookup(id CipherSuite) (SuiteInfo, bool) {
	info, ok := suiteRegistry[id]
	return info, ok
}

// String returns the IANA name of the cipher suite, or "unknown".
func (cs CipherSuite) String() string {
	switch cs {
	case TLS_RSA_WITH_AES_128_CBC_SHA:
		return "TLS_RSA_WITH_AES_128_CBC_SHA"
	case TLS_RSA_WITH_AES_256_CBC_SHA:
		return "TLS_RSA_WITH_AES_256_CBC_SHA"
	case TLS_RSA_WITH_AES_128_CBC_SHA256:
		return "TLS_RSA_WITH_AES_128_CBC_SHA256"
	case TLS_RSA_WITH_AES_256_CBC_SHA256:
		return "TLS_RSA_WITH_AES_256_CBC_SHA256"
	case TLS_RSA_WITH_AES_128_GCM_SHA256:
		return "TLS_RSA_WITH_AES_128_GCM_SHA256"
	case TLS_RSA_WITH_AES_256_GCM_SHA384:
		return "TLS_RSA_WITH_AES_256_GCM_SHA384"
	case TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA:
		return "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA"
	case TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA:
		return "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA"
	case TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:
		return "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"
	case TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:
		return "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384"
	case TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:
		return "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256"
	default:
		return "unknown"
	}
}

// IsSupported reports whether the suite is present in the registry.
func (cs CipherSuite) IsSupported() bool {
	_, ok := suiteRegistry[cs]
	return ok
}

// DefaultCipherSuites lists the suites offered by a client_hello, in
// preference order (ECDHE+AEAD first, CBC and plain-RSA last).
func DefaultCipherSuites() []CipherSuite {
	return []CipherSuite{
		TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		TLS_RSA_WITH_AES_128_GCM_SHA256,
		TLS_RSA_WITH_AES_256_GCM_SHA384,
		TLS_RSA_WITH_AES_128_CBC_SHA,
		TLS_RSA_WITH_AES_256_CBC_SHA,
	}
}

// NamedCurve identifies an ECDHE curve offered in the supported_groups extension.
type NamedCurve uint16

const (
	CurveSECP256R1 NamedCurve = 23
	CurveSECP384R1 NamedCurve = 24
	CurveSECP521R1 NamedCurve = 25
)

// PRF label strings used by the key derivation functions (RFC 5246 section 5, 8.1).
const (
	LabelMasterSecret   = "master secret"
	LabelKeyExpansion   = "key expansion"
	LabelClientFinished = "client finished"
	LabelServerFinished = "server finished"
)

// ExtensionType identifies a hello extension this implementation understands.
type ExtensionType uint16

const (
	ExtensionSignatureAlgorithms ExtensionType = 13
	ExtensionSupportedGroups     ExtensionType = 10
	ExtensionECPointFormats      ExtensionType = 11
)
