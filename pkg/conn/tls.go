package conn

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"

	"hawser/pkg/helper/errors"
)

// TLSPolicy describes how a TLS transport should be attached. The zero value
// means "verify against the system roots". Exactly one of Config, Fingerprint
// or InsecureSkipVerify should be set; Config wins when several are.
type TLSPolicy struct {
	// Config, when non-nil, is used as-is (cloned per connection).
	Config *tls.Config

	// Fingerprint pins the peer certificate. Pinning implies that chain
	// verification is skipped; the pin is the trust anchor.
	Fingerprint *Fingerprint

	// InsecureSkipVerify disables certificate chain verification.
	InsecureSkipVerify bool
}

// FingerprintSize is the length of a SHA-256 certificate digest.
const FingerprintSize = sha256.Size

// Fingerprint is the SHA-256 digest of the peer certificate in DER encoding.
type Fingerprint [FingerprintSize]byte

// NewFingerprint validates the digest length and returns a Fingerprint.
func NewFingerprint(digest []byte) (Fingerprint, error) {
	var f Fingerprint
	if len(digest) != FingerprintSize {
		return f, errors.InvalidInputf("fingerprint must be a sha256 digest, got %d bytes", len(digest))
	}
	copy(f[:], digest)
	return f, nil
}

// ParseFingerprint decodes a hex-encoded SHA-256 digest, with or without
// colon separators.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	cleaned := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ':' {
			cleaned = append(cleaned, s[i])
		}
	}
	raw, err := hex.DecodeString(string(cleaned))
	if err != nil {
		return f, errors.InvalidInputf("fingerprint is not valid hex: %v", err)
	}
	return NewFingerprint(raw)
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Check compares the pinned digest against the leaf certificate of a completed
// handshake. A mismatch is returned as *FingerprintMismatchError.
func (f Fingerprint) Check(state tls.ConnectionState, host string, port int) error {
	if len(state.PeerCertificates) == 0 {
		return &FingerprintMismatchError{Expected: f[:], Host: host, Port: port}
	}
	got := sha256.Sum256(state.PeerCertificates[0].Raw)
	if !bytes.Equal(got[:], f[:]) {
		return &FingerprintMismatchError{Expected: f[:], Got: got[:], Host: host, Port: port}
	}
	return nil
}

// FingerprintMismatchError reports a failed certificate pin.
type FingerprintMismatchError struct {
	Expected []byte
	Got      []byte
	Host     string
	Port     int
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("certificate fingerprint mismatch for %s:%d: expected %s, got %s",
		e.Host, e.Port, hex.EncodeToString(e.Expected), hex.EncodeToString(e.Got))
}
