package conn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hawser/pkg/helper/errors"
)

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestNewFingerprintLength(t *testing.T) {
	_, err := NewFingerprint(make([]byte, 16))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	digest := sha256.Sum256([]byte("cert"))
	fp, err := NewFingerprint(digest[:])
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(digest[:]), fp.String())
}

func TestParseFingerprint(t *testing.T) {
	digest := sha256.Sum256([]byte("cert"))
	plain := hex.EncodeToString(digest[:])

	var colons strings.Builder
	for i := 0; i < len(plain); i += 2 {
		if i > 0 {
			colons.WriteByte(':')
		}
		colons.WriteString(plain[i : i+2])
	}

	for _, input := range []string{plain, colons.String()} {
		fp, err := ParseFingerprint(input)
		require.NoError(t, err)
		assert.Equal(t, plain, fp.String())
	}

	_, err := ParseFingerprint("zz")
	assert.Error(t, err)
	_, err = ParseFingerprint(plain[:10])
	assert.Error(t, err)
}

func TestFingerprintCheck(t *testing.T) {
	cert := selfSignedCert(t)
	digest := sha256.Sum256(cert.Raw)
	fp, err := NewFingerprint(digest[:])
	require.NoError(t, err)

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	assert.NoError(t, fp.Check(state, "example.com", 443))

	other := selfSignedCert(t)
	otherState := tls.ConnectionState{PeerCertificates: []*x509.Certificate{other}}
	err = fp.Check(otherState, "example.com", 443)
	require.Error(t, err)

	var mismatch *FingerprintMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, digest[:], mismatch.Expected)
	assert.Equal(t, "example.com", mismatch.Host)
	assert.Equal(t, 443, mismatch.Port)
}

func TestFingerprintCheckNoPeerCertificates(t *testing.T) {
	digest := sha256.Sum256([]byte("cert"))
	fp, err := NewFingerprint(digest[:])
	require.NoError(t, err)

	err = fp.Check(tls.ConnectionState{}, "example.com", 443)
	assert.Error(t, err)
}
