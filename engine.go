// Package tlscore glues the record codec, the handshake state machine, and
// the session cryptographic context into one per-connection Engine: a
// single-threaded actor with no internal goroutines, driven entirely by
// the caller's Handshake/Send/Receive calls.
package tlscore

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pzverkov/tlscore/internal/alert"
	"github.com/pzverkov/tlscore/internal/constants"
	"github.com/pzverkov/tlscore/pkg/handshake"
	"github.com/pzverkov/tlscore/pkg/metrics"
	"github.com/pzverkov/tlscore/pkg/record"
	"github.com/pzverkov/tlscore/pkg/session"
)

// Engine drives one TLS connection over a caller-supplied duplex byte
// stream. It never imports net: any io.ReadWriter works, typically a
// net.Conn in production and a net.Pipe() end in tests.
type Engine struct {
	conn   io.ReadWriter
	cfg    Config
	sess   *session.Session
	mach   *handshake.Machine
	reasm  record.Reassembler
	logger *metrics.Logger
	tracer metrics.Tracer

	secure atomic.Bool

	// versionLocked is set once the first handshake frame has been
	// processed (the frame that pins down e.sess.Version via negotiation).
	// Every record read after that must carry that exact version.
	versionLocked bool
}

func (c Config) maxVersion() constants.ProtocolVersion {
	if c.MaxVersion == (constants.ProtocolVersion{}) {
		return constants.MaxVersion
	}
	return c.MaxVersion
}

func toHandshakeConfig(cfg Config) handshake.Config {
	return handshake.Config{
		MinVersion:   cfg.MinVersion,
		MaxVersion:   cfg.MaxVersion,
		CipherSuites: cfg.CipherSuites,
		Certificates: cfg.Certificates,
		PrivateKey:   cfg.PrivateKey,
		Rand:         cfg.Rand,
	}
}

// NewClient creates an Engine that will drive the client side of a
// handshake, then application data, over conn.
func NewClient(conn io.ReadWriter, cfg Config) *Engine {
	cfg.Role = RoleClient
	sess := session.New(session.RoleClient)
	sess.Version = cfg.maxVersion()
	return &Engine{
		conn:   conn,
		cfg:    cfg,
		sess:   sess,
		mach:   handshake.NewClient(sess, toHandshakeConfig(cfg)),
		logger: cfg.logger().Named("tlscore"),
		tracer: cfg.tracer(),
	}
}

// NewServer creates an Engine that will drive the server side of a
// handshake, then application data, over conn.
func NewServer(conn io.ReadWriter, cfg Config) *Engine {
	cfg.Role = RoleServer
	sess := session.New(session.RoleServer)
	return &Engine{
		conn:   conn,
		cfg:    cfg,
		sess:   sess,
		mach:   handshake.NewServer(sess, toHandshakeConfig(cfg)),
		logger: cfg.logger().Named("tlscore"),
		tracer: cfg.tracer(),
	}
}

// Handshake drives the handshake to completion, blocking on conn as
// needed. It is not safe to call Handshake, Send, and Receive
// concurrently on the same Engine; see the package doc's single-actor
// model.
func (e *Engine) Handshake(ctx context.Context) (err error) {
	spanName := metrics.SpanHandshakeServer
	if e.cfg.Role == RoleClient {
		spanName = metrics.SpanHandshakeClient
	}
	_, end := e.tracer.StartSpan(ctx, spanName)
	defer func() { end(err) }()

	if e.cfg.Role == RoleClient {
		outs, startErr := e.mach.Start()
		if startErr != nil {
			err = startErr
			e.fail(err)
			return err
		}
		for _, raw := range outs {
			if err = e.writeHandshakeBody(raw); err != nil {
				e.fail(err)
				return err
			}
		}
	}

	for !e.mach.Done() {
		if err = e.readAndStep(); err != nil {
			e.fail(err)
			return err
		}
	}

	e.secure.Store(true)
	e.cfg.observer().OnStateChange("established")
	if suite, ok := e.sess.ActiveReadSuite(); ok {
		e.cfg.observer().OnSecure(suite.ID)
	}
	e.logger.Info("handshake complete", metrics.Fields{"role": e.cfg.Role.String()})
	return nil
}

// fail tears the connection down: a best-effort fatal alert toward the
// peer (when the failure maps to one and the write side still works),
// then the observer and log surfaces.
func (e *Engine) fail(err error) {
	var ae *alert.Error
	if errors.As(err, &ae) && ae.Level == alert.LevelFatal {
		if ciphertext, encErr := e.sess.Encrypt(constants.ContentTypeAlert, []byte{byte(ae.Level), byte(ae.Description)}); encErr == nil {
			_ = e.writeRecord(constants.ContentTypeAlert, ciphertext)
		}
	}
	e.cfg.observer().OnError(err)
	e.logger.Error("handshake failed", metrics.Fields{"error": err.Error()})
}

// Secure reports whether the handshake has completed. Safe to call from
// any goroutine.
func (e *Engine) Secure() bool { return e.secure.Load() }

// Stats returns a snapshot of this connection's traffic counters, safe to
// call from a goroutine other than the one driving Handshake/Send/Receive.
func (e *Engine) Stats() session.Stats { return e.sess.Stats() }

// HealthSnapshot adapts Stats to the shape pkg/metrics.HealthCheck expects,
// for wiring an Engine into a health endpoint.
func (e *Engine) HealthSnapshot() metrics.HealthMetrics {
	stats := e.sess.Stats()
	active := int64(0)
	if e.Secure() {
		active = 1
	}
	return metrics.HealthMetrics{
		HandshakesActive: active,
		RecordsSent:      int64(stats.RecordsSent),
		RecordsReceived:  int64(stats.RecordsReceived),
	}
}

func (e *Engine) readAndStep() error {
	rec, err := record.ReadRecord(e.conn)
	if err != nil {
		return err
	}
	if e.versionLocked && rec.Version != e.sess.Version {
		return alert.Fatal(alert.DescProtocolVersion, fmt.Errorf("tlscore: record version %s does not match negotiated version %s", rec.Version, e.sess.Version))
	}

	switch rec.Type {
	case constants.ContentTypeChangeCipherSpec:
		plaintext, err := e.sess.Decrypt(rec.Type, rec.Payload)
		if err != nil {
			return alert.Fatal(alert.DescBadRecordMAC, err)
		}
		if len(plaintext) != 1 || plaintext[0] != 1 {
			return alert.Fatal(alert.DescUnexpectedMessage, fmt.Errorf("tlscore: malformed change_cipher_spec"))
		}
		res, err := e.mach.HandleChangeCipherSpec()
		if err != nil {
			return err
		}
		return e.sendOutbound(res.Outbound)

	case constants.ContentTypeAlert:
		return e.handleAlertRecord(rec)

	case constants.ContentTypeHandshake:
		plaintext, err := e.sess.Decrypt(rec.Type, rec.Payload)
		if err != nil {
			return alert.Fatal(alert.DescBadRecordMAC, err)
		}
		e.cfg.observer().OnRecordDecrypt(len(plaintext))
		e.reasm.Feed(plaintext)
		for {
			frame, ok, err := e.reasm.Next()
			if err != nil {
				return alert.Fatal(alert.DescDecodeError, err)
			}
			if !ok {
				break
			}
			res, err := e.mach.Step(frame)
			if err != nil {
				return err
			}
			e.versionLocked = true
			if frame.Type == constants.HandshakeCertificate {
				if leaf, ok := e.mach.PeerLeaf(); ok {
					e.cfg.observer().OnPeerCertificate(leaf)
				}
			}
			if err := e.sendOutbound(res.Outbound); err != nil {
				return err
			}
		}
		return nil

	case constants.ContentTypeApplicationData:
		return alert.Fatal(alert.DescUnexpectedMessage, fmt.Errorf("tlscore: application data received mid-handshake"))

	default:
		return alert.Fatal(alert.DescUnexpectedMessage, fmt.Errorf("tlscore: unhandled content type %s", rec.Type))
	}
}

func (e *Engine) handleAlertRecord(rec record.Record) error {
	plaintext, err := e.sess.Decrypt(rec.Type, rec.Payload)
	if err != nil {
		return alert.Fatal(alert.DescBadRecordMAC, err)
	}
	if len(plaintext) != 2 {
		return alert.Fatal(alert.DescDecodeError, fmt.Errorf("tlscore: malformed alert record"))
	}
	level, desc := alert.Level(plaintext[0]), alert.Description(plaintext[1])
	if desc == alert.DescCloseNotify {
		return io.EOF
	}
	if level == alert.LevelFatal {
		return &alert.Error{Level: level, Description: desc}
	}
	e.cfg.observer().OnWarningAlert(desc)
	e.logger.Warn("received warning alert", metrics.Fields{"description": desc.String()})
	return nil
}

func (e *Engine) sendOutbound(msgs []handshake.OutboundMessage) error {
	for _, m := range msgs {
		if m.ChangeCipherSpecBefore {
			if err := e.writeChangeCipherSpec(); err != nil {
				return err
			}
			if err := e.sess.ActivateWrite(); err != nil {
				return alert.Fatal(alert.DescInternalError, err)
			}
		}
		if err := e.writeHandshakeBody(m.Raw); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeChangeCipherSpec() error {
	ciphertext, err := e.sess.Encrypt(constants.ContentTypeChangeCipherSpec, []byte{1})
	if err != nil {
		return alert.Fatal(alert.DescInternalError, err)
	}
	return e.writeRecord(constants.ContentTypeChangeCipherSpec, ciphertext)
}

// writeHandshakeBody fragments and writes one already-framed handshake
// message (header + body) across as many records as MaxRecordPayload
// requires.
func (e *Engine) writeHandshakeBody(raw []byte) error {
	for len(raw) > 0 {
		n := len(raw)
		if n > constants.MaxRecordPayload {
			n = constants.MaxRecordPayload
		}
		chunk := raw[:n]
		ciphertext, err := e.sess.Encrypt(constants.ContentTypeHandshake, chunk)
		if err != nil {
			return alert.Fatal(alert.DescInternalError, err)
		}
		e.cfg.observer().OnRecordEncrypt(n)
		if err := e.writeRecord(constants.ContentTypeHandshake, ciphertext); err != nil {
			return err
		}
		raw = raw[n:]
	}
	return nil
}

func (e *Engine) writeRecord(typ constants.ContentType, payload []byte) error {
	rec := record.Record{Type: typ, Version: e.sess.Version, Payload: payload}
	buf, err := rec.Encode()
	if err != nil {
		return err
	}
	_, err = e.conn.Write(buf)
	return err
}

// Send writes application data, fragmenting and protecting it under the
// current write epoch. It must not be called before Handshake returns nil.
func (e *Engine) Send(b []byte) (int, error) {
	if !e.Secure() {
		return 0, fmt.Errorf("tlscore: Send called before handshake completed")
	}
	total := 0
	for len(b) > 0 {
		n := len(b)
		if n > constants.MaxRecordPayload {
			n = constants.MaxRecordPayload
		}
		ciphertext, err := e.sess.Encrypt(constants.ContentTypeApplicationData, b[:n])
		if err != nil {
			return total, err
		}
		if err := e.writeRecord(constants.ContentTypeApplicationData, ciphertext); err != nil {
			return total, err
		}
		e.cfg.observer().OnRecordEncrypt(n)
		total += n
		b = b[n:]
	}
	return total, nil
}

// Receive reads and decrypts the next application-data record, silently
// consuming any warning alerts in between and returning io.EOF on
// close_notify, the same contract net.Conn callers already expect.
func (e *Engine) Receive() ([]byte, error) {
	if !e.Secure() {
		return nil, fmt.Errorf("tlscore: Receive called before handshake completed")
	}
	for {
		rec, err := record.ReadRecord(e.conn)
		if err != nil {
			return nil, err
		}
		switch rec.Type {
		case constants.ContentTypeApplicationData:
			plaintext, err := e.sess.Decrypt(rec.Type, rec.Payload)
			if err != nil {
				return nil, alert.Fatal(alert.DescBadRecordMAC, err)
			}
			e.cfg.observer().OnRecordDecrypt(len(plaintext))
			return plaintext, nil
		case constants.ContentTypeAlert:
			if err := e.handleAlertRecord(rec); err != nil {
				return nil, err
			}
		default:
			return nil, alert.Fatal(alert.DescUnexpectedMessage, fmt.Errorf("tlscore: unexpected content type %s after handshake", rec.Type))
		}
	}
}

// Close sends a close_notify alert and releases the session's key
// material. The underlying conn is closed too if it implements io.Closer.
func (e *Engine) Close() error {
	if e.Secure() {
		if ciphertext, err := e.sess.Encrypt(constants.ContentTypeAlert, []byte{byte(alert.LevelWarning), byte(alert.DescCloseNotify)}); err == nil {
			_ = e.writeRecord(constants.ContentTypeAlert, ciphertext)
		}
	}
	e.sess.Close()
	if closer, ok := e.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// PeerCertificate returns the peer's parsed leaf certificate, if the
// handshake carried one (always true on a client Engine once the server's
// Certificate message is processed, since every suite here authenticates
// the server with RSA; never set on a server Engine, which never requests
// a client certificate).
func (e *Engine) PeerCertificate() (*x509.Certificate, bool) {
	return e.mach.PeerLeaf()
}
