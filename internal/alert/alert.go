// Package alert defines the TLS alert taxonomy: one sentinel error per
// alert description (RFC 5246 section 7.2.2), and a wrapper type that
// carries the alert level and the underlying cause back to the caller.
package alert

import (
	"errors"
	"fmt"
)

// Level is the alert level carried in an alert record: warning or fatal.
type Level uint8

const (
	LevelWarning Level = 1
	LevelFatal   Level = 2
)

func (l Level) String() string {
	if l == LevelFatal {
		return "fatal"
	}
	return "warning"
}

// Description is the one-byte alert description code (RFC 5246 section 7.2.2).
type Description uint8

const (
	DescCloseNotify            Description = 0
	DescUnexpectedMessage      Description = 10
	DescBadRecordMAC           Description = 20
	DescDecryptionFailed       Description = 21
	DescRecordOverflow         Description = 22
	DescDecompressionFailure   Description = 30
	DescHandshakeFailure       Description = 40
	DescBadCertificate         Description = 42
	DescUnsupportedCertificate Description = 43
	DescCertificateRevoked     Description = 44
	DescCertificateExpired     Description = 45
	DescCertificateUnknown     Description = 46
	DescIllegalParameter       Description = 47
	DescUnknownCA              Description = 48
	DescAccessDenied           Description = 49
	DescDecodeError            Description = 50
	DescDecryptError           Description = 51
	DescProtocolVersion        Description = 70
	DescInsufficientSecurity   Description = 71
	DescInternalError          Description = 80
	DescUserCanceled           Description = 90
	DescNoRenegotiation        Description = 100
)

func (d Description) String() string {
	switch d {
	case DescCloseNotify:
		return "close_notify"
	case DescUnexpectedMessage:
		return "unexpected_message"
	case DescBadRecordMAC:
		return "bad_record_mac"
	case DescDecryptionFailed:
		return "decryption_failed"
	case DescRecordOverflow:
		return "record_overflow"
	case DescDecompressionFailure:
		return "decompression_failure"
	case DescHandshakeFailure:
		return "handshake_failure"
	case DescBadCertificate:
		return "bad_certificate"
	case DescUnsupportedCertificate:
		return "unsupported_certificate"
	case DescCertificateRevoked:
		return "certificate_revoked"
	case DescCertificateExpired:
		return "certificate_expired"
	case DescCertificateUnknown:
		return "certificate_unknown"
	case DescIllegalParameter:
		return "illegal_parameter"
	case DescUnknownCA:
		return "unknown_ca"
	case DescAccessDenied:
		return "access_denied"
	case DescDecodeError:
		return "decode_error"
	case DescDecryptError:
		return "decrypt_error"
	case DescProtocolVersion:
		return "protocol_version"
	case DescInsufficientSecurity:
		return "insufficient_security"
	case DescInternalError:
		return "internal_error"
	case DescUserCanceled:
		return "user_canceled"
	case DescNoRenegotiation:
		return "no_renegotiation"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per alert description, so callers can test with
// errors.Is against a stable value regardless of the wrapping cause.
var (
	ErrCloseNotify            = New(DescCloseNotify)
	ErrUnexpectedMessage      = New(DescUnexpectedMessage)
	ErrBadRecordMAC           = New(DescBadRecordMAC)
	ErrDecryptionFailed       = New(DescDecryptionFailed)
	ErrRecordOverflow         = New(DescRecordOverflow)
	ErrDecompressionFailure   = New(DescDecompressionFailure)
	ErrHandshakeFailure       = New(DescHandshakeFailure)
	ErrBadCertificate         = New(DescBadCertificate)
	ErrUnsupportedCertificate = New(DescUnsupportedCertificate)
	ErrCertificateRevoked     = New(DescCertificateRevoked)
	ErrCertificateExpired     = New(DescCertificateExpired)
	ErrCertificateUnknown     = New(DescCertificateUnknown)
	ErrIllegalParameter       = New(DescIllegalParameter)
	ErrUnknownCA              = New(DescUnknownCA)
	ErrAccessDenied           = New(DescAccessDenied)
	ErrDecodeError            = New(DescDecodeError)
	ErrDecryptError           = New(DescDecryptError)
	ErrProtocolVersion        = New(DescProtocolVersion)
	ErrInsufficientSecurity   = New(DescInsufficientSecurity)
	ErrInternalError          = New(DescInternalError)
	ErrUserCanceled           = New(DescUserCanceled)
	ErrNoRenegotiation        = New(DescNoRenegotiation)

	// ErrNotImplemented marks handshake features this core deliberately
	// does not implement (client certificates, renegotiation, DHE).
	ErrNotImplemented = fmt.Errorf("tlscore: feature not implemented")
)

// descError is the plain sentinel behind each Err* value above: equality
// comparable, so errors.Is(err, alert.ErrBadRecordMAC) works through any
// number of wrapping layers.
type descError struct {
	desc Description
}

func (e *descError) Error() string { return "alert: " + e.desc.String() }

// Is matches any descError carrying the same description, so a freshly
// built sentinel and the package-level Err* value compare equal.
func (e *descError) Is(target error) bool {
	t, ok := target.(*descError)
	return ok && t.desc == e.desc
}

// New returns the sentinel error for a given alert description.
func New(d Description) error { return &descError{desc: d} }

// Error wraps a sentinel alert error with its level and an optional cause.
type Error struct {
	Level       Level
	Description Description
	Err         error
}

// Fatal builds a fatal Error, defaulting Err to the sentinel for desc when cause is nil.
func Fatal(desc Description, cause error) *Error {
	return &Error{Level: LevelFatal, Description: desc, Err: orSentinel(desc, cause)}
}

// Warn builds a warning-level Error.
func Warn(desc Description, cause error) *Error {
	return &Error{Level: LevelWarning, Description: desc, Err: orSentinel(desc, cause)}
}

func orSentinel(desc Description, cause error) error {
	if cause != nil {
		return cause
	}
	return New(desc)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s alert (%s): %v", e.Level, e.Description, e.Err)
	}
	return fmt.Sprintf("%s alert (%s)", e.Level, e.Description)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether any error in err's chain matches target. Re-exported
// so callers testing against the Err* sentinels need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
