package constants

import "testing"

func TestCipherSuiteString(t *testing.T) {
	tests := []struct {
		suite CipherSuite
		want  string
	}{
		{TLS_RSA_WITH_AES_128_CBC_SHA, "TLS_RSA_WITH_AES_128_CBC_SHA"},
		{TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384"},
		{CipherSuite(0x9999), "unknown"},
	}

	for _, tt := range tests {
		got := tt.suite.String()
		if got != tt.want {
			t.Errorf("CipherSuite(%#x).String() = %q, want %q", uint16(tt.suite), got, tt.want)
		}
	}
}

func TestCipherSuiteIsSupported(t *testing.T) {
	tests := []struct {
		suite CipherSuite
		want  bool
	}{
		{TLS_RSA_WITH_AES_128_CBC_SHA, true},
		{TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256, true},
		{CipherSuite(0x0000), false},
		{CipherSuite(0xFFFF), false},
	}

	for _, tt := range tests {
		got := tt.suite.IsSupported()
		if got != tt.want {
			t.Errorf("CipherSuite(%#x).IsSupported() = %v, want %v", uint16(tt.suite), got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	info, ok := Lookup(TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
	if !ok {
		t.Fatalf("Lookup(TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256) not found")
	}
	if info.Type != CipherTypeAEAD || info.KeyExch != KeyExchangeECDHE {
		t.Errorf("unexpected SuiteInfo: %+v", info)
	}

	if _, ok := Lookup(CipherSuite(0xABCD)); ok {
		t.Errorf("Lookup(0xABCD) should not be found")
	}
}

func TestVersionInRange(t *testing.T) {
	if !InRange(VersionTLS10) || !InRange(VersionTLS11) || !InRange(VersionTLS12) {
		t.Errorf("TLS 1.0-1.2 must be in range")
	}
	if InRange(ProtocolVersion{3, 0}) {
		t.Errorf("SSLv3 must not be in range")
	}
	if InRange(ProtocolVersion{3, 4}) {
		t.Errorf("TLS 1.3 must not be in range")
	}
}

func TestDefaultCipherSuitesAllSupported(t *testing.T) {
	for _, cs := range DefaultCipherSuites() {
		if !cs.IsSupported() {
			t.Errorf("default suite %s not marked supported", cs)
		}
	}
}
