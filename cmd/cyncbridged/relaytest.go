package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// relayTestDialTimeout bounds how long relay-test waits for the TLS
// handshake, mirroring internal/relay.Relay's own dial timeout.
const relayTestDialTimeout = 10 * time.Second

var relayTestInsecure bool

var relayTestCmd = &cobra.Command{
	Use:   "relay-test <host:port>",
	Short: "Dial the vendor cloud endpoint and report whether the TLS handshake succeeds",
	Long: `relay-test opens a direct, observe-only TLS connection to the
given vendor cloud address (the same endpoint internal/relay forwards
to when cloud_relay.forward_to_cloud is enabled) and reports whether
the handshake succeeds. It never sends any protocol frames; it only
verifies network reachability and certificate acceptance before an
operator enables forward_to_cloud in config.yaml.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelayTest,
}

func init() {
	relayTestCmd.Flags().BoolVar(&relayTestInsecure, "insecure", false, "skip TLS certificate verification")
}

func runRelayTest(cmd *cobra.Command, args []string) error {
	addr := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), relayTestDialTimeout)
	defer cancel()

	dialer := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: relayTestInsecure}} //nolint:gosec // operator-requested diagnostic dial
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return startupIOError(fmt.Errorf("dialing %s: %w", addr, err))
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	fmt.Printf("connected to %s: TLS %s, cipher suite %s\n",
		addr, tlsVersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
	return nil
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "1.0"
	case tls.VersionTLS11:
		return "1.1"
	case tls.VersionTLS12:
		return "1.2"
	case tls.VersionTLS13:
		return "1.3"
	default:
		return "unknown"
	}
}
