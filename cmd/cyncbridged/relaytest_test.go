package main

import (
	"crypto/tls"
	"testing"
)

func TestTLSVersionName(t *testing.T) {
	cases := map[uint16]string{
		tls.VersionTLS10: "1.0",
		tls.VersionTLS11: "1.1",
		tls.VersionTLS12: "1.2",
		tls.VersionTLS13: "1.3",
		0x0000:           "unknown",
	}
	for version, want := range cases {
		if got := tlsVersionName(version); got != want {
			t.Errorf("tlsVersionName(%#x) = %q, want %q", version, got, want)
		}
	}
}
