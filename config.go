package tlscore

import (
	"crypto/rsa"
	"io"

	"github.com/pzverkov/tlscore/internal/constants"
	"github.com/pzverkov/tlscore/pkg/metrics"
	"github.com/pzverkov/tlscore/pkg/session"
)

// Role identifies which side of the handshake an Engine plays.
type Role = session.Role

const (
	RoleClient = session.RoleClient
	RoleServer = session.RoleServer
)

// Config holds everything an Engine needs to drive one connection: the
// negotiable protocol parameters, server key material, and the
// observability collaborators (logger, tracer, Observer) it reports
// through.
type Config struct {
	Role Role

	MinVersion, MaxVersion constants.ProtocolVersion
	CipherSuites           []constants.CipherSuite

	// Certificates and PrivateKey are required for a server Engine and
	// ignored by a client one: this core verifies no certificate chain,
	// so a client needs no CA pool — the server's leaf key encrypts RSA
	// premaster secrets and verifies ECDHE parameter signatures.
	Certificates [][]byte
	PrivateKey   *rsa.PrivateKey

	// Rand overrides the randomness source for hello randoms and RSA
	// premaster secrets. Nil uses crypto/rand. ECDHE ephemeral keys always
	// come from crypto/rand.
	Rand io.Reader

	Observer Observer
	Logger   *metrics.Logger
	Tracer   metrics.Tracer
}

func (c Config) logger() *metrics.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return metrics.NullLogger()
}

func (c Config) tracer() metrics.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return metrics.NoOpTracer{}
}

func (c Config) observer() Observer {
	if c.Observer != nil {
		return c.Observer
	}
	return NoOpObserver{}
}

// DefaultConfig returns a Config with the library's default version range
// for the given role; callers narrow it from there. CipherSuites is left
// nil, which the handshake treats as constants.DefaultCipherSuites() in
// that priority order.
func DefaultConfig(role Role) Config {
	return Config{
		Role:       role,
		MinVersion: constants.MinVersion,
		MaxVersion: constants.MaxVersion,
	}
}
