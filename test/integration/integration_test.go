// Package integration provides end-to-end integration tests for tlscore.
//
// These tests verify the complete flow from handshake to encrypted data
// transfer, driving a client and server Engine pair over net.Pipe.
package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	tlscore "github.com/pzverkov/tlscore"
	"github.com/pzverkov/tlscore/internal/constants"
)

// generateServerIdentity creates a self-signed RSA leaf certificate and its
// private key for a test server Engine. Chain validation is out of this
// core's scope, so a single self-signed leaf is enough to drive the
// handshake end to end.
func generateServerIdentity(t *testing.T) ([][]byte, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tlscore-test-server"},
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

// handshakePair drives a client and server Engine to completion over an
// in-memory net.Pipe and returns both, ready for Send/Receive.
func handshakePair(t *testing.T, suites []constants.CipherSuite) (*tlscore.Engine, *tlscore.Engine) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	certs, key := generateServerIdentity(t)

	clientCfg := tlscore.DefaultConfig(tlscore.RoleClient)
	clientCfg.CipherSuites = suites
	serverCfg := tlscore.DefaultConfig(tlscore.RoleServer)
	serverCfg.CipherSuites = suites
	serverCfg.Certificates = certs
	serverCfg.PrivateKey = key

	client := tlscore.NewClient(clientConn, clientCfg)
	server := tlscore.NewServer(serverConn, serverCfg)

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		clientErr = client.Handshake(context.Background())
	}()
	go func() {
		defer wg.Done()
		serverErr = server.Handshake(context.Background())
	}()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client handshake failed: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake failed: %v", serverErr)
	}
	if !client.Secure() || !server.Secure() {
		t.Fatalf("both engines should report secure after a completed handshake")
	}
	return client, server
}

// TestFullHandshakeAndDataTransfer verifies the complete handshake and a
// single client-to-server application data transfer under the RSA suite.
func TestFullHandshakeAndDataTransfer(t *testing.T) {
	client, server := handshakePair(t, []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256})
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	testData := []byte("Hello over a TLS 1.2 RSA record layer!")

	var wg sync.WaitGroup
	var receivedData []byte
	var sendErr, recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, sendErr = client.Send(testData)
	}()
	go func() {
		defer wg.Done()
		receivedData, recvErr = server.Receive()
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("client send failed: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("server receive failed: %v", recvErr)
	}
	if !bytes.Equal(testData, receivedData) {
		t.Errorf("data mismatch: got %q, want %q", receivedData, testData)
	}
}

// TestBidirectionalDataTransfer verifies data can flow both directions once
// the handshake completes.
func TestBidirectionalDataTransfer(t *testing.T) {
	client, server := handshakePair(t, []constants.CipherSuite{constants.TLS_RSA_WITH_AES_256_CBC_SHA})
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	messages := []string{
		"Message 1: client to server",
		"Message 2: server to client",
		"Message 3: client to server",
		"Message 4: server to client",
	}

	for i, msg := range messages {
		var sender interface{ Send([]byte) (int, error) }
		var receiver interface{ Receive() ([]byte, error) }
		if i%2 == 0 {
			sender, receiver = client, server
		} else {
			sender, receiver = server, client
		}

		var wg sync.WaitGroup
		var received []byte
		var err error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = sender.Send([]byte(msg))
		}()
		go func() {
			defer wg.Done()
			received, err = receiver.Receive()
		}()
		wg.Wait()

		if err != nil {
			t.Errorf("message %d: receive error: %v", i, err)
			continue
		}
		if string(received) != msg {
			t.Errorf("message %d: got %q, want %q", i, received, msg)
		}
	}
}

// TestLargeDataTransfer verifies record fragmentation across the 2^14-byte
// plaintext cap.
func TestLargeDataTransfer(t *testing.T) {
	client, server := handshakePair(t, []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256})
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	sizes := []int{100, 1000, 20000, 60000}

	for _, size := range sizes {
		testData := make([]byte, size)
		for i := range testData {
			testData[i] = byte(i % 256)
		}

		var wg sync.WaitGroup
		var received []byte
		var sendErr, recvErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, sendErr = client.Send(testData)
		}()
		go func() {
			defer wg.Done()
			for len(received) < size && recvErr == nil {
				var chunk []byte
				chunk, recvErr = server.Receive()
				received = append(received, chunk...)
			}
		}()
		wg.Wait()

		if sendErr != nil {
			t.Errorf("size %d: send error: %v", size, sendErr)
			continue
		}
		if recvErr != nil {
			t.Errorf("size %d: receive error: %v", size, recvErr)
			continue
		}
		if !bytes.Equal(testData, received) {
			t.Errorf("size %d: data mismatch", size)
		}
	}
}

// TestStatisticsTracking verifies Engine.Stats reflects records exchanged.
func TestStatisticsTracking(t *testing.T) {
	client, server := handshakePair(t, []constants.CipherSuite{constants.TLS_RSA_WITH_AES_128_GCM_SHA256})
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	messageCount := 5
	messageSize := 100

	for i := 0; i < messageCount; i++ {
		msg := make([]byte, messageSize)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = client.Send(msg)
		}()
		go func() {
			defer wg.Done()
			_, _ = server.Receive()
		}()
		wg.Wait()
	}

	clientStats := client.Stats()
	serverStats := server.Stats()

	if clientStats.RecordsSent != uint64(messageCount) {
		t.Errorf("client records sent: got %d, want %d", clientStats.RecordsSent, messageCount)
	}
	if clientStats.BytesSent != uint64(messageCount*messageSize) {
		t.Errorf("client bytes sent: got %d, want %d", clientStats.BytesSent, messageCount*messageSize)
	}
	if serverStats.RecordsReceived != uint64(messageCount) {
		t.Errorf("server records received: got %d, want %d", serverStats.RecordsReceived, messageCount)
	}
}

// TestDifferentCipherSuites verifies RSA, CBC, GCM, and ChaCha20-Poly1305
// suites all complete a handshake and carry application data.
func TestDifferentCipherSuites(t *testing.T) {
	suites := []constants.CipherSuite{
		constants.TLS_RSA_WITH_AES_128_CBC_SHA,
		constants.TLS_RSA_WITH_AES_128_GCM_SHA256,
		constants.TLS_RSA_WITH_AES_256_GCM_SHA384,
		constants.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		constants.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	}

	for _, suite := range suites {
		t.Run(suite.String(), func(t *testing.T) {
			client, server := handshakePair(t, []constants.CipherSuite{suite})
			defer func() { _ = client.Close() }()
			defer func() { _ = server.Close() }()

			testData := []byte("payload under " + suite.String())

			var wg sync.WaitGroup
			var received []byte
			var recvErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = client.Send(testData)
			}()
			go func() {
				defer wg.Done()
				received, recvErr = server.Receive()
			}()
			wg.Wait()

			if recvErr != nil {
				t.Fatalf("receive error: %v", recvErr)
			}
			if !bytes.Equal(testData, received) {
				t.Error("data mismatch")
			}
		})
	}
}

// TestApplicationDataRejectedBeforeHandshake verifies that application
// data is rejected until the handshake completes.
func TestApplicationDataRejectedBeforeHandshake(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer func() { _ = clientConn.Close() }()

	cfg := tlscore.DefaultConfig(tlscore.RoleClient)
	client := tlscore.NewClient(clientConn, cfg)

	if _, err := client.Send([]byte("too early")); err == nil {
		t.Error("expected Send before handshake completion to fail")
	}
	if _, err := client.Receive(); err == nil {
		t.Error("expected Receive before handshake completion to fail")
	}
}
