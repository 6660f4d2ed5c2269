package tlscore

import (
	"crypto/x509"

	"github.com/pzverkov/tlscore/internal/alert"
	"github.com/pzverkov/tlscore/internal/constants"
)

// Observer receives lifecycle notifications from an Engine, decoupling
// metrics and tracing from the core protocol logic. All methods must
// return promptly: Engine calls them synchronously from the goroutine
// driving the connection.
type Observer interface {
	// OnStateChange reports a human-readable handshake phase transition.
	OnStateChange(state string)
	// OnSecure reports that the handshake completed and which suite
	// protects the connection from here on.
	OnSecure(suite constants.CipherSuite)
	// OnPeerCertificate reports the peer's leaf certificate, once parsed.
	// Not called on a session with no Certificate message (client without
	// a certificate request satisfied, which this core never sends).
	OnPeerCertificate(leaf *x509.Certificate)
	// OnRecordEncrypt reports one outbound record's plaintext length.
	OnRecordEncrypt(n int)
	// OnRecordDecrypt reports one inbound record's plaintext length.
	OnRecordDecrypt(n int)
	// OnWarningAlert reports a tolerated, non-fatal alert from the peer.
	OnWarningAlert(desc alert.Description)
	// OnError reports a fatal error that tore down the connection.
	OnError(err error)
}

// NoOpObserver implements Observer with no-op methods. Embed it to satisfy
// the interface while overriding only the hooks a caller cares about.
type NoOpObserver struct{}

func (NoOpObserver) OnStateChange(string)                {}
func (NoOpObserver) OnSecure(constants.CipherSuite)      {}
func (NoOpObserver) OnPeerCertificate(*x509.Certificate) {}
func (NoOpObserver) OnRecordEncrypt(int)                 {}
func (NoOpObserver) OnRecordDecrypt(int)                 {}
func (NoOpObserver) OnWarningAlert(alert.Description)    {}
func (NoOpObserver) OnError(error)                       {}
