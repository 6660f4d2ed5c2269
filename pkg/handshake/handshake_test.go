package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/pzverkov/tlscore/internal/constants"
	"github.com/pzverkov/tlscore/pkg/record"
	"github.com/pzverkov/tlscore/pkg/session"
)

func generateLeaf(t *testing.T) ([][]byte, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "handshake-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("x509.CreateCertificate: %v", err)
	}
	return [][]byte{der}, priv
}

// nextFrame drains exactly one frame from a Reassembler already fed with
// whole messages, failing the test if none is available.
func nextFrame(t *testing.T, a *record.Reassembler) record.Frame {
	t.Helper()
	frame, ok, err := a.Next()
	if err != nil {
		t.Fatalf("Reassembler.Next: %v", err)
	}
	if !ok {
		t.Fatalf("Reassembler.Next: expected a complete frame, got none")
	}
	return frame
}

// driveFullHandshake runs client and server Machines through a complete
// handshake, feeding each side's outbound messages to the other through a
// Reassembler and timing change_cipher_spec activation the way Engine does
// in sendOutbound/readAndStep, but without any record-layer encryption —
// this exercises the state machine in isolation from the record codec.
func driveFullHandshake(t *testing.T, client, server *Machine) {
	t.Helper()

	var toServer, toClient record.Reassembler

	chMsgs, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	for _, raw := range chMsgs {
		toServer.Feed(raw)
	}
	res, err := server.Step(nextFrame(t, &toServer))
	if err != nil {
		t.Fatalf("server.Step(client_hello): %v", err)
	}
	if res.Disposition != Accepted {
		t.Fatalf("server.Step(client_hello): disposition %v, want Accepted", res.Disposition)
	}

	for _, m := range res.Outbound {
		toClient.Feed(m.Raw)
	}

	var flightResult StepResult
	for {
		frame, ok, err := toClient.Next()
		if err != nil {
			t.Fatalf("toClient.Next: %v", err)
		}
		if !ok {
			t.Fatalf("server flight exhausted before producing the client's key-exchange flight")
		}
		flightResult, err = client.Step(frame)
		if err != nil {
			t.Fatalf("client.Step(server flight): %v", err)
		}
		if len(flightResult.Outbound) > 0 {
			break
		}
	}
	if len(flightResult.Outbound) != 2 {
		t.Fatalf("client key-exchange flight: got %d outbound messages, want 2 (client_key_exchange, finished)", len(flightResult.Outbound))
	}
	cke, fin := flightResult.Outbound[0], flightResult.Outbound[1]
	if cke.ChangeCipherSpecBefore {
		t.Fatalf("client_key_exchange must not carry ChangeCipherSpecBefore")
	}
	if !fin.ChangeCipherSpecBefore {
		t.Fatalf("client's finished message must carry ChangeCipherSpecBefore")
	}

	toServer.Feed(cke.Raw)
	if _, err := server.Step(nextFrame(t, &toServer)); err != nil {
		t.Fatalf("server.Step(client_key_exchange): %v", err)
	}

	if err := client.Session.ActivateWrite(); err != nil {
		t.Fatalf("client ActivateWrite: %v", err)
	}
	if _, err := server.HandleChangeCipherSpec(); err != nil {
		t.Fatalf("server.HandleChangeCipherSpec: %v", err)
	}

	toServer.Feed(fin.Raw)
	servFinRes, err := server.Step(nextFrame(t, &toServer))
	if err != nil {
		t.Fatalf("server.Step(client finished): %v", err)
	}
	if len(servFinRes.Outbound) != 1 || !servFinRes.Outbound[0].ChangeCipherSpecBefore {
		t.Fatalf("server's finished response must be one message with ChangeCipherSpecBefore")
	}
	if !server.Done() {
		t.Fatalf("server should be Done after sending its finished message")
	}

	if err := server.Session.ActivateWrite(); err != nil {
		t.Fatalf("server ActivateWrite: %v", err)
	}
	if _, err := client.HandleChangeCipherSpec(); err != nil {
		t.Fatalf("client.HandleChangeCipherSpec: %v", err)
	}

	toClient.Feed(servFinRes.Outbound[0].Raw)
	if _, err := client.Step(nextFrame(t, &toClient)); err != nil {
		t.Fatalf("client.Step(server finished): %v", err)
	}
	if !client.Done() {
		t.Fatalf("client should be Done after verifying the server's finished message")
	}
}

func newPair(t *testing.T, suite constants.CipherSuite, certs [][]byte, key *rsa.PrivateKey) (*Machine, *Machine) {
	t.Helper()
	clientSess := session.New(session.RoleClient)
	serverSess := session.New(session.RoleServer)
	cfg := Config{CipherSuites: []constants.CipherSuite{suite}}
	scfg := cfg
	scfg.Certificates = certs
	scfg.PrivateKey = key
	return NewClient(clientSess, cfg), NewServer(serverSess, scfg)
}

func TestHandshakeRSAKeyExchange(t *testing.T) {
	certs, key := generateLeaf(t)
	client, server := newPair(t, constants.TLS_RSA_WITH_AES_128_GCM_SHA256, certs, key)
	driveFullHandshake(t, client, server)

	leaf, ok := client.PeerLeaf()
	if !ok {
		t.Fatalf("client should have recorded the server's leaf certificate")
	}
	if leaf.Subject.CommonName != "handshake-test" {
		t.Errorf("peer leaf CommonName = %q, want %q", leaf.Subject.CommonName, "handshake-test")
	}
}

func TestHandshakeECDHEKeyExchange(t *testing.T) {
	certs, key := generateLeaf(t)
	client, server := newPair(t, constants.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, certs, key)
	driveFullHandshake(t, client, server)
}

func TestHandshakeCBCSuite(t *testing.T) {
	certs, key := generateLeaf(t)
	client, server := newPair(t, constants.TLS_RSA_WITH_AES_128_CBC_SHA, certs, key)
	driveFullHandshake(t, client, server)
}

// TestHandshakeBleichenbacherDeferredError verifies that a server facing a
// corrupted RSA premaster still completes the client_key_exchange step (no
// early rejection the attacker could time) and only fails once the
// client's finished verify_data is checked.
func TestHandshakeBleichenbacherDeferredError(t *testing.T) {
	certs, key := generateLeaf(t)
	clientSess := session.New(session.RoleClient)
	serverSess := session.New(session.RoleServer)
	suite := constants.TLS_RSA_WITH_AES_128_GCM_SHA256
	ccfg := Config{CipherSuites: []constants.CipherSuite{suite}}
	scfg := Config{CipherSuites: []constants.CipherSuite{suite}, Certificates: certs, PrivateKey: key}
	client := NewClient(clientSess, ccfg)
	server := NewServer(serverSess, scfg)

	var toServer, toClient record.Reassembler
	chMsgs, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	toServer.Feed(chMsgs[0])
	res, err := server.Step(nextFrame(t, &toServer))
	if err != nil {
		t.Fatalf("server.Step(client_hello): %v", err)
	}
	for _, m := range res.Outbound {
		toClient.Feed(m.Raw)
	}

	var flightResult StepResult
	for {
		frame, ok, err := toClient.Next()
		if err != nil {
			t.Fatalf("toClient.Next: %v", err)
		}
		if !ok {
			break
		}
		flightResult, err = client.Step(frame)
		if err != nil {
			t.Fatalf("client.Step(server flight): %v", err)
		}
		if len(flightResult.Outbound) > 0 {
			break
		}
	}
	cke := flightResult.Outbound[0]

	// Corrupt the encrypted premaster secret so RSA decryption fails on
	// the server, the way a bit-flipped client_key_exchange would.
	corrupted := append([]byte(nil), cke.Raw...)
	corrupted[len(corrupted)-1] ^= 0xff

	toServer.Feed(corrupted)
	if _, err := server.Step(nextFrame(t, &toServer)); err != nil {
		t.Fatalf("server.Step(corrupted client_key_exchange) must not fail directly: %v", err)
	}

	if err := client.Session.ActivateWrite(); err != nil {
		t.Fatalf("client ActivateWrite: %v", err)
	}
	if _, err := server.HandleChangeCipherSpec(); err != nil {
		t.Fatalf("server.HandleChangeCipherSpec: %v", err)
	}

	fin := flightResult.Outbound[1]
	toServer.Feed(fin.Raw)
	if _, err := server.Step(nextFrame(t, &toServer)); err == nil {
		t.Fatalf("server.Step(finished) should fail once the deferred Bleichenbacher error surfaces")
	}
}

func TestClientHelloRandomCarriesTimestamp(t *testing.T) {
	client := NewClient(session.New(session.RoleClient), Config{})
	if _, err := client.Start(); err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	ts := record.GMTUnixTime(client.Session.ClientRandom)
	now := uint32(time.Now().Unix())
	if ts == 0 || ts > now {
		t.Errorf("client random timestamp %d should be a past unix time (now %d)", ts, now)
	}
}

func TestNegotiateVersion(t *testing.T) {
	cases := []struct {
		offered, min, max constants.ProtocolVersion
		want              constants.ProtocolVersion
	}{
		{constants.VersionTLS12, constants.VersionTLS10, constants.VersionTLS12, constants.VersionTLS12},
		{constants.VersionTLS12, constants.VersionTLS10, constants.VersionTLS11, constants.VersionTLS11},
		{constants.VersionTLS10, constants.VersionTLS11, constants.VersionTLS12, constants.ProtocolVersion{}},
	}
	for _, c := range cases {
		got := negotiateVersion(c.offered, c.min, c.max)
		if got != c.want {
			t.Errorf("negotiateVersion(%v, %v, %v) = %v, want %v", c.offered, c.min, c.max, got, c.want)
		}
	}
}

func TestSelectCipherSuite(t *testing.T) {
	offered := []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_CBC_SHA, constants.TLS_RSA_WITH_AES_128_GCM_SHA256}
	supported := []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256}

	info, err := selectCipherSuite(offered, supported, constants.VersionTLS12)
	if err != nil {
		t.Fatalf("selectCipherSuite: %v", err)
	}
	if info.ID != constants.TLS_RSA_WITH_AES_128_GCM_SHA256 {
		t.Errorf("selected suite = %v, want TLS_RSA_WITH_AES_128_GCM_SHA256", info.ID)
	}

	if _, err := selectCipherSuite(
		[]constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_CBC_SHA},
		[]constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256},
		constants.VersionTLS12,
	); err == nil {
		t.Error("selectCipherSuite should fail when offered and supported don't overlap")
	}

	// A GCM suite's TLS 1.2 floor rules it out at 1.1; the CBC suite behind
	// it in the offer must be selected instead.
	info, err = selectCipherSuite(
		[]constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256, constants.TLS_RSA_WITH_AES_128_CBC_SHA},
		[]constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256, constants.TLS_RSA_WITH_AES_128_CBC_SHA},
		constants.VersionTLS11,
	)
	if err != nil {
		t.Fatalf("selectCipherSuite at TLS 1.1: %v", err)
	}
	if info.ID != constants.TLS_RSA_WITH_AES_128_CBC_SHA {
		t.Errorf("selected suite at TLS 1.1 = %v, want TLS_RSA_WITH_AES_128_CBC_SHA", info.ID)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}

	if !constantTimeEqual(a, b) {
		t.Error("constantTimeEqual(a, b) = false, want true")
	}
	if constantTimeEqual(a, c) {
		t.Error("constantTimeEqual(a, c) = true, want false")
	}
	if constantTimeEqual(a, []byte{1, 2, 3}) {
		t.Error("constantTimeEqual should reject mismatched lengths")
	}
}

func TestServerRejectsUnsupportedCipherSuite(t *testing.T) {
	certs, key := generateLeaf(t)
	clientSess := session.New(session.RoleClient)
	serverSess := session.New(session.RoleServer)
	ccfg := Config{CipherSuites: []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_CBC_SHA}}
	scfg := Config{CipherSuites: []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256}, Certificates: certs, PrivateKey: key}
	client := NewClient(clientSess, ccfg)
	server := NewServer(serverSess, scfg)

	var toServer record.Reassembler
	chMsgs, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	toServer.Feed(chMsgs[0])

	if _, err := server.Step(nextFrame(t, &toServer)); err == nil {
		t.Error("server.Step(client_hello) should fail when no cipher suite is mutually supported")
	}
}
