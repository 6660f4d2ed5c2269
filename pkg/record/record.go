// Package record implements the TLS record and handshake message framing
// codec: record header encode/decode, handshake message fragmentation and
// reassembly across records, and per-handshake-type body parsers.
//
// This package is stateless data transformation only; it does not know
// about cipher suites, sessions, or the handshake state machine.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pzverkov/tlscore/internal/alert"
	"github.com/pzverkov/tlscore/internal/constants"
)

// Record is one TLS record: a content type, protocol version, and a
// fragment. Payload is plaintext and bounded by MaxRecordPayload when Type
// is being freshly written; once encrypted it may grow by a cipher's
// expansion up to MaxCiphertextRecordPayload, which is the bound Encode
// and ReadRecord actually enforce, since both also carry already-sealed
// fragments handed up from a session's write/read epoch.
type Record struct {
	Type    constants.ContentType
	Version constants.ProtocolVersion
	Payload []byte
}

// Encode serializes r as a 5-byte header followed by its payload.
func (r Record) Encode() ([]byte, error) {
	if len(r.Payload) > constants.MaxCiphertextRecordPayload {
		return nil, alert.Fatal(alert.DescRecordOverflow, fmt.Errorf("record: payload %d exceeds max fragment size", len(r.Payload)))
	}
	buf := make([]byte, constants.RecordHeaderSize+len(r.Payload))
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint16(buf[1:3], r.Version.Uint16())
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(r.Payload)))
	copy(buf[5:], r.Payload)
	return buf, nil
}

// ReadRecord reads one record header and its fragment from r, rejecting an
// unrecognized content type (unexpected_message) or an oversized fragment
// (record_overflow) before the caller ever sees it.
func ReadRecord(r io.Reader) (Record, error) {
	var hdr [constants.RecordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, err
	}

	typ := constants.ContentType(hdr[0])
	switch typ {
	case constants.ContentTypeChangeCipherSpec, constants.ContentTypeAlert, constants.ContentTypeHandshake, constants.ContentTypeApplicationData:
	default:
		return Record{}, alert.Fatal(alert.DescUnexpectedMessage, fmt.Errorf("record: unrecognized content type %d", hdr[0]))
	}

	length := binary.BigEndian.Uint16(hdr[3:5])
	if int(length) > constants.MaxCiphertextRecordPayload {
		return Record{}, alert.Fatal(alert.DescRecordOverflow, fmt.Errorf("record: fragment length %d exceeds max", length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, err
	}

	return Record{
		Type:    typ,
		Version: constants.ProtocolVersion{Major: hdr[1], Minor: hdr[2]},
		Payload: payload,
	}, nil
}

// encodeHandshakeHeader builds the 4-byte header prefixing every handshake
// message: a 1-byte type tag and a 3-byte big-endian body length.
func encodeHandshakeHeader(typ constants.HandshakeType, bodyLen int) []byte {
	buf := make([]byte, constants.HandshakeHeaderSize)
	buf[0] = byte(typ)
	buf[1] = byte(bodyLen >> 16)
	buf[2] = byte(bodyLen >> 8)
	buf[3] = byte(bodyLen)
	return buf
}

func decodeHandshakeHeader(hdr []byte) (constants.HandshakeType, int) {
	length := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
	return constants.HandshakeType(hdr[0]), length
}

// EncodeHandshake wraps a marshaled handshake body with its 4-byte header,
// producing the bytes that both go on the wire (inside handshake records)
// and feed the transcript hash.
func EncodeHandshake(typ constants.HandshakeType, body []byte) ([]byte, error) {
	if len(body) > constants.MaxHandshakeMessageSize {
		return nil, fmt.Errorf("record: handshake body %d exceeds max size", len(body))
	}
	out := make([]byte, 0, constants.HandshakeHeaderSize+len(body))
	out = append(out, encodeHandshakeHeader(typ, len(body))...)
	out = append(out, body...)
	return out, nil
}
