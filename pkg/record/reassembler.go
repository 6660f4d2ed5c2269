package record

import (
	"fmt"

	"github.com/pzverkov/tlscore/internal/constants"
)

// Frame is one complete, reassembled handshake message: its type, the raw
// header+body bytes (fed verbatim into the transcript hash, per RFC 5246
// section 7.4.1.1), and the body alone (fed to the per-type body parser).
type Frame struct {
	Type constants.HandshakeType
	Raw  []byte // header + body, as it must appear in the transcript
	Body []byte
}

// Reassembler accumulates handshake-record fragments and yields complete
// Frames. A single TLS record may carry part of a message, a whole message,
// or several messages back to back; this type hides that from callers.
type Reassembler struct {
	buf []byte
}

// Feed appends one handshake record's fragment to the reassembly buffer.
func (a *Reassembler) Feed(fragment []byte) {
	a.buf = append(a.buf, fragment...)
}

// Next extracts the next complete Frame from the buffer, if one is fully
// available. ok is false (with a nil error) when more fragments are needed.
func (a *Reassembler) Next() (frame Frame, ok bool, err error) {
	if len(a.buf) < constants.HandshakeHeaderSize {
		return Frame{}, false, nil
	}

	typ, bodyLen := decodeHandshakeHeader(a.buf[:constants.HandshakeHeaderSize])
	if bodyLen > constants.MaxHandshakeMessageSize {
		return Frame{}, false, fmt.Errorf("record: handshake message %d exceeds max size", bodyLen)
	}

	total := constants.HandshakeHeaderSize + bodyLen
	if len(a.buf) < total {
		return Frame{}, false, nil
	}

	raw := make([]byte, total)
	copy(raw, a.buf[:total])
	a.buf = a.buf[total:]

	return Frame{
		Type: typ,
		Raw:  raw,
		Body: raw[constants.HandshakeHeaderSize:],
	}, true, nil
}

// Pending reports whether bytes remain buffered (a message in progress).
func (a *Reassembler) Pending() bool { return len(a.buf) > 0 }
