package record

import (
	"encoding/binary"
	"fmt"

	"github.com/pzverkov/tlscore/internal/constants"
)

// ClientHello is the first handshake message sent by a client (RFC 5246 section 7.4.1.2).
type ClientHello struct {
	Version             constants.ProtocolVersion
	Random              [constants.RandomSize]byte
	SessionID           []byte
	CipherSuites        []constants.CipherSuite
	CompressionMethods  []byte
	SupportedGroups     []constants.NamedCurve
	SignatureAlgorithms []uint16
}

// Validate checks field lengths the parser cannot otherwise guarantee.
func (m *ClientHello) Validate() error {
	if len(m.SessionID) > constants.MaxSessionIDSize {
		return fmt.Errorf("record: client_hello session_id too long: %d", len(m.SessionID))
	}
	if len(m.CipherSuites) == 0 {
		return fmt.Errorf("record: client_hello must offer at least one cipher suite")
	}
	return nil
}

func (m *ClientHello) Marshal() []byte {
	buf := make([]byte, 0, 64+len(m.CipherSuites)*2)
	buf = append(buf, byte(m.Version.Major), byte(m.Version.Minor))
	buf = append(buf, m.Random[:]...)
	buf = append(buf, byte(len(m.SessionID)))
	buf = append(buf, m.SessionID...)

	suites := make([]byte, 2+len(m.CipherSuites)*2)
	binary.BigEndian.PutUint16(suites, uint16(len(m.CipherSuites)*2))
	for i, cs := range m.CipherSuites {
		binary.BigEndian.PutUint16(suites[2+2*i:], uint16(cs))
	}
	buf = append(buf, suites...)

	comps := m.CompressionMethods
	if len(comps) == 0 {
		comps = []byte{constants.CompressionNull}
	}
	buf = append(buf, byte(len(comps)))
	buf = append(buf, comps...)

	buf = append(buf, marshalExtensions(m.SupportedGroups, m.SignatureAlgorithms)...)
	return buf
}

func ParseClientHello(body []byte) (*ClientHello, error) {
	if len(body) < 2+constants.RandomSize+1 {
		return nil, fmt.Errorf("record: client_hello too short")
	}
	m := &ClientHello{Version: constants.ProtocolVersion{Major: body[0], Minor: body[1]}}
	copy(m.Random[:], body[2:2+constants.RandomSize])
	off := 2 + constants.RandomSize

	sidLen := int(body[off])
	off++
	if len(body) < off+sidLen+2 {
		return nil, fmt.Errorf("record: client_hello truncated session_id")
	}
	m.SessionID = append([]byte(nil), body[off:off+sidLen]...)
	off += sidLen

	suitesLen := int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if suitesLen%2 != 0 || len(body) < off+suitesLen {
		return nil, fmt.Errorf("record: client_hello truncated cipher_suites")
	}
	for i := 0; i < suitesLen; i += 2 {
		m.CipherSuites = append(m.CipherSuites, constants.CipherSuite(binary.BigEndian.Uint16(body[off+i:])))
	}
	off += suitesLen

	if len(body) < off+1 {
		return nil, fmt.Errorf("record: client_hello truncated compression_methods")
	}
	compLen := int(body[off])
	off++
	if compLen == 0 || len(body) < off+compLen {
		return nil, fmt.Errorf("record: client_hello compression_methods must carry 1..255 entries")
	}
	m.CompressionMethods = append([]byte(nil), body[off:off+compLen]...)
	off += compLen

	if off < len(body) {
		groups, sigAlgs, err := parseExtensions(body[off:])
		if err != nil {
			return nil, err
		}
		m.SupportedGroups, m.SignatureAlgorithms = groups, sigAlgs
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// GMTUnixTime returns the 4-byte big-endian timestamp prefixing a hello
// random (RFC 5246 section 7.4.1.2).
func GMTUnixTime(random [constants.RandomSize]byte) uint32 {
	return binary.BigEndian.Uint32(random[:4])
}

// ServerHello is the server's response selecting a single version, suite,
// and compression method from the client's offer.
type ServerHello struct {
	Version           constants.ProtocolVersion
	Random            [constants.RandomSize]byte
	SessionID         []byte
	CipherSuite       constants.CipherSuite
	CompressionMethod byte
}

func (m *ServerHello) Validate() error {
	if !m.CipherSuite.IsSupported() {
		return fmt.Errorf("record: server_hello selected unsupported suite %s", m.CipherSuite)
	}
	return nil
}

func (m *ServerHello) Marshal() []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, byte(m.Version.Major), byte(m.Version.Minor))
	buf = append(buf, m.Random[:]...)
	buf = append(buf, byte(len(m.SessionID)))
	buf = append(buf, m.SessionID...)
	var cs [2]byte
	binary.BigEndian.PutUint16(cs[:], uint16(m.CipherSuite))
	buf = append(buf, cs[:]...)
	buf = append(buf, m.CompressionMethod)
	return buf
}

func ParseServerHello(body []byte) (*ServerHello, error) {
	if len(body) < 2+constants.RandomSize+1 {
		return nil, fmt.Errorf("record: server_hello too short")
	}
	m := &ServerHello{Version: constants.ProtocolVersion{Major: body[0], Minor: body[1]}}
	copy(m.Random[:], body[2:2+constants.RandomSize])
	off := 2 + constants.RandomSize

	sidLen := int(body[off])
	off++
	if len(body) < off+sidLen+3 {
		return nil, fmt.Errorf("record: server_hello truncated")
	}
	m.SessionID = append([]byte(nil), body[off:off+sidLen]...)
	off += sidLen

	m.CipherSuite = constants.CipherSuite(binary.BigEndian.Uint16(body[off:]))
	off += 2
	m.CompressionMethod = body[off]

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// CertificateMsg carries a chain of DER-encoded X.509 certificates, leaf first.
type CertificateMsg struct {
	Certificates [][]byte
}

func (m *CertificateMsg) Marshal() []byte {
	var body []byte
	for _, der := range m.Certificates {
		var l [3]byte
		n := len(der)
		l[0], l[1], l[2] = byte(n>>16), byte(n>>8), byte(n)
		body = append(body, l[:]...)
		body = append(body, der...)
	}
	var outer [3]byte
	n := len(body)
	outer[0], outer[1], outer[2] = byte(n>>16), byte(n>>8), byte(n)
	return append(outer[:], body...)
}

func ParseCertificateMsg(body []byte) (*CertificateMsg, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("record: certificate message too short")
	}
	total := int(body[0])<<16 | int(body[1])<<8 | int(body[2])
	off := 3
	if len(body) < off+total {
		return nil, fmt.Errorf("record: certificate message truncated")
	}
	end := off + total
	m := &CertificateMsg{}
	for off < end {
		if end-off < 3 {
			return nil, fmt.Errorf("record: certificate entry truncated")
		}
		certLen := int(body[off])<<16 | int(body[off+1])<<8 | int(body[off+2])
		off += 3
		if off+certLen > end {
			return nil, fmt.Errorf("record: certificate entry overruns list")
		}
		m.Certificates = append(m.Certificates, append([]byte(nil), body[off:off+certLen]...))
		off += certLen
	}
	return m, nil
}

// ServerKeyExchangeECDHE carries the server's ephemeral EC point and its
// signature over (client_random || server_random || params), per RFC 4492.
type ServerKeyExchangeECDHE struct {
	Curve     constants.NamedCurve
	PublicKey []byte
	SigAlg    uint16
	Signature []byte
}

// SignedParams returns the ServerECDHParams prefix of the message: the
// bytes the server's signature covers, together with the hello randoms
// (RFC 4492 section 5.4).
func (m *ServerKeyExchangeECDHE) SignedParams() []byte {
	buf := []byte{3 /* named_curve */, byte(m.Curve >> 8), byte(m.Curve)}
	buf = append(buf, byte(len(m.PublicKey)))
	return append(buf, m.PublicKey...)
}

func (m *ServerKeyExchangeECDHE) Marshal() []byte {
	buf := m.SignedParams()
	var sigAlg, sigLen [2]byte
	binary.BigEndian.PutUint16(sigAlg[:], m.SigAlg)
	buf = append(buf, sigAlg[:]...)
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(m.Signature)))
	buf = append(buf, sigLen[:]...)
	buf = append(buf, m.Signature...)
	return buf
}

func ParseServerKeyExchangeECDHE(body []byte) (*ServerKeyExchangeECDHE, error) {
	if len(body) < 4 || body[0] != 3 {
		return nil, fmt.Errorf("record: only named_curve ECParameters are supported")
	}
	m := &ServerKeyExchangeECDHE{Curve: constants.NamedCurve(binary.BigEndian.Uint16(body[1:3]))}
	off := 3
	pubLen := int(body[off])
	off++
	if len(body) < off+pubLen+4 {
		return nil, fmt.Errorf("record: server_key_exchange truncated")
	}
	m.PublicKey = append([]byte(nil), body[off:off+pubLen]...)
	off += pubLen
	m.SigAlg = binary.BigEndian.Uint16(body[off:])
	off += 2
	sigLen := int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if len(body) < off+sigLen {
		return nil, fmt.Errorf("record: server_key_exchange signature truncated")
	}
	m.Signature = append([]byte(nil), body[off:off+sigLen]...)
	return m, nil
}

// ServerHelloDone carries no data.
type ServerHelloDone struct{}

func (ServerHelloDone) Marshal() []byte { return nil }

// CertificateRequest lists the certificate types, signature algorithms,
// and distinguished names of acceptable certificate authorities
// (RFC 5246 section 7.4.4). This implementation parses and emits it but
// never satisfies it (client certificate authentication is not
// implemented).
type CertificateRequest struct {
	CertificateTypes    []byte
	SignatureAlgorithms []uint16
	Authorities         [][]byte // DER-encoded DistinguishedNames
}

func (m *CertificateRequest) Marshal() []byte {
	buf := []byte{byte(len(m.CertificateTypes))}
	buf = append(buf, m.CertificateTypes...)

	algs := make([]byte, 2+2*len(m.SignatureAlgorithms))
	binary.BigEndian.PutUint16(algs, uint16(2*len(m.SignatureAlgorithms)))
	for i, a := range m.SignatureAlgorithms {
		binary.BigEndian.PutUint16(algs[2+2*i:], a)
	}
	buf = append(buf, algs...)

	var names []byte
	for _, dn := range m.Authorities {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(dn)))
		names = append(names, l[:]...)
		names = append(names, dn...)
	}
	var total [2]byte
	binary.BigEndian.PutUint16(total[:], uint16(len(names)))
	buf = append(buf, total[:]...)
	return append(buf, names...)
}

func ParseCertificateRequest(body []byte) (*CertificateRequest, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("record: certificate_request too short")
	}
	n := int(body[0])
	if len(body) < 1+n+2 {
		return nil, fmt.Errorf("record: certificate_request truncated")
	}
	m := &CertificateRequest{CertificateTypes: append([]byte(nil), body[1:1+n]...)}
	off := 1 + n
	algLen := int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if algLen%2 != 0 || len(body) < off+algLen {
		return nil, fmt.Errorf("record: certificate_request truncated signature_algorithms")
	}
	for i := 0; i < algLen; i += 2 {
		m.SignatureAlgorithms = append(m.SignatureAlgorithms, binary.BigEndian.Uint16(body[off+i:]))
	}
	off += algLen

	if len(body) < off+2 {
		return nil, fmt.Errorf("record: certificate_request truncated authorities")
	}
	total := int(binary.BigEndian.Uint16(body[off:]))
	off += 2
	if len(body) < off+total {
		return nil, fmt.Errorf("record: certificate_request authorities overrun the body")
	}
	end := off + total
	for off < end {
		if end-off < 2 {
			return nil, fmt.Errorf("record: certificate_request authority entry truncated")
		}
		dnLen := int(binary.BigEndian.Uint16(body[off:]))
		off += 2
		if dnLen == 0 || off+dnLen > end {
			return nil, fmt.Errorf("record: certificate_request authority entry overruns the list")
		}
		m.Authorities = append(m.Authorities, append([]byte(nil), body[off:off+dnLen]...))
		off += dnLen
	}
	return m, nil
}

// ClientKeyExchangeRSA carries the RSA-encrypted premaster secret.
type ClientKeyExchangeRSA struct {
	EncryptedPreMasterSecret []byte
}

func (m *ClientKeyExchangeRSA) Marshal() []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(m.EncryptedPreMasterSecret)))
	return append(l[:], m.EncryptedPreMasterSecret...)
}

func ParseClientKeyExchangeRSA(body []byte) (*ClientKeyExchangeRSA, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("record: client_key_exchange too short")
	}
	n := int(binary.BigEndian.Uint16(body))
	if len(body) < 2+n {
		return nil, fmt.Errorf("record: client_key_exchange truncated")
	}
	return &ClientKeyExchangeRSA{EncryptedPreMasterSecret: append([]byte(nil), body[2:2+n]...)}, nil
}

// ClientKeyExchangeECDHE carries the client's ephemeral EC point.
type ClientKeyExchangeECDHE struct {
	PublicKey []byte
}

func (m *ClientKeyExchangeECDHE) Marshal() []byte {
	return append([]byte{byte(len(m.PublicKey))}, m.PublicKey...)
}

func ParseClientKeyExchangeECDHE(body []byte) (*ClientKeyExchangeECDHE, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("record: client_key_exchange too short")
	}
	n := int(body[0])
	if len(body) < 1+n {
		return nil, fmt.Errorf("record: client_key_exchange truncated")
	}
	return &ClientKeyExchangeECDHE{PublicKey: append([]byte(nil), body[1:1+n]...)}, nil
}

// Finished carries the verify_data computed over the handshake transcript.
type Finished struct {
	VerifyData []byte
}

func (m *Finished) Validate() error {
	if len(m.VerifyData) != constants.VerifyDataSize {
		return fmt.Errorf("record: finished verify_data must be %d bytes, got %d", constants.VerifyDataSize, len(m.VerifyData))
	}
	return nil
}

func (m *Finished) Marshal() []byte { return m.VerifyData }

func ParseFinished(body []byte) (*Finished, error) {
	m := &Finished{VerifyData: append([]byte(nil), body...)}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// marshalExtensions encodes the signature_algorithms and supported_groups
// extensions; ec_point_formats (uncompressed only) is implied and omitted.
func marshalExtensions(groups []constants.NamedCurve, sigAlgs []uint16) []byte {
	var exts []byte

	if len(groups) > 0 {
		body := make([]byte, 2+2*len(groups))
		binary.BigEndian.PutUint16(body, uint16(2*len(groups)))
		for i, g := range groups {
			binary.BigEndian.PutUint16(body[2+2*i:], uint16(g))
		}
		exts = append(exts, extTLV(constants.ExtensionSupportedGroups, body)...)
	}

	if len(sigAlgs) > 0 {
		body := make([]byte, 2+2*len(sigAlgs))
		binary.BigEndian.PutUint16(body, uint16(2*len(sigAlgs)))
		for i, a := range sigAlgs {
			binary.BigEndian.PutUint16(body[2+2*i:], a)
		}
		exts = append(exts, extTLV(constants.ExtensionSignatureAlgorithms, body)...)
	}

	if len(exts) == 0 {
		return nil
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(exts)))
	return append(l[:], exts...)
}

func extTLV(typ constants.ExtensionType, body []byte) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(body)))
	return append(hdr[:], body...)
}

func parseExtensions(data []byte) (groups []constants.NamedCurve, sigAlgs []uint16, err error) {
	if len(data) < 2 {
		return nil, nil, nil
	}
	total := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < total {
		return nil, nil, fmt.Errorf("record: extensions block truncated")
	}
	data = data[:total]

	for len(data) > 0 {
		if len(data) < 4 {
			return nil, nil, fmt.Errorf("record: extension header truncated")
		}
		typ := constants.ExtensionType(binary.BigEndian.Uint16(data[0:2]))
		length := int(binary.BigEndian.Uint16(data[2:4]))
		if len(data) < 4+length {
			return nil, nil, fmt.Errorf("record: extension body truncated")
		}
		body := data[4 : 4+length]
		data = data[4+length:]

		switch typ {
		case constants.ExtensionSupportedGroups:
			if len(body) < 2 {
				continue
			}
			n := int(binary.BigEndian.Uint16(body))
			body = body[2:]
			for i := 0; i+1 < n && i+1 < len(body); i += 2 {
				groups = append(groups, constants.NamedCurve(binary.BigEndian.Uint16(body[i:])))
			}
		case constants.ExtensionSignatureAlgorithms:
			if len(body) < 2 {
				continue
			}
			n := int(binary.BigEndian.Uint16(body))
			body = body[2:]
			for i := 0; i+1 < n && i+1 < len(body); i += 2 {
				sigAlgs = append(sigAlgs, binary.BigEndian.Uint16(body[i:]))
			}
		}
	}
	return groups, sigAlgs, nil
}
