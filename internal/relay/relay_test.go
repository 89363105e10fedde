package relay

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// selfSignedCert generates a throwaway in-memory cert/key pair for the
// fake cloud TLS listener under test.
func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relay-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("x509 key pair: %v", err)
	}
	return cert
}

func TestNewSessionDisabledDoesNotDial(t *testing.T) {
	r := New(config.CloudRelayConfig{Enabled: false}, logging.Default())
	var got [][]byte
	sess := r.NewSession(context.Background(), 1, func(raw []byte) { got = append(got, raw) })
	defer sess.Close()

	sess.Forward(protocol.Encode(protocol.TypeHeartbeatDevice, 1, nil))
	if len(got) != 0 {
		t.Fatalf("disabled relay must never invoke onCloudFrame, got %d", len(got))
	}
}

func TestNewSessionObserveOnlyModeDoesNotDial(t *testing.T) {
	r := New(config.CloudRelayConfig{Enabled: true, ForwardToCloud: false}, logging.Default())
	sess := r.NewSession(context.Background(), 1, func([]byte) {})
	defer sess.Close()

	sess.Forward(protocol.Encode(protocol.TypeHeartbeatDevice, 1, nil))
}

func TestSessionDialFailureDegradesGracefully(t *testing.T) {
	r := New(config.CloudRelayConfig{
		Enabled: true, ForwardToCloud: true, CloudHost: "127.0.0.1:1",
	}, logging.Default())

	sess := r.NewSession(context.Background(), 1, func([]byte) {})
	defer sess.Close()

	// Forward must be a no-op, not a panic, once the dial has failed.
	sess.Forward(protocol.Encode(protocol.TypeHeartbeatDevice, 1, nil))
}

func TestSessionForwardsCloudFramesBack(t *testing.T) {
	cert := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// Finish the server side of the TLS handshake so the relay's
			// dial, which waits for it, can return.
			_ = conn.(*tls.Conn).Handshake()
			accepted <- conn
		}
	}()

	r := New(config.CloudRelayConfig{
		Enabled: true, ForwardToCloud: true, CloudHost: ln.Addr().String(), DisableSSLVerification: true,
	}, logging.Default())

	received := make(chan []byte, 1)
	sess := r.NewSession(context.Background(), 42, func(raw []byte) { received <- raw })
	defer sess.Close()

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("cloud leg never connected")
	}
	defer serverConn.Close()

	frame := protocol.Encode(protocol.TypeHeartbeatCloud, 7, nil)
	if _, err := serverConn.Write(frame); err != nil {
		t.Fatalf("write from fake cloud: %v", err)
	}

	select {
	case raw := <-received:
		if len(raw) == 0 {
			t.Fatal("expected a non-empty forwarded frame")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onCloudFrame was never invoked")
	}
}
