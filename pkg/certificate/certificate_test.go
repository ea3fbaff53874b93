package certificate

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

func TestGenerate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	files, err := Generate(Options{
		CommonName: "my-client",
		Password:   "s3cret",
		Bits:       2048,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	block, rest := pem.Decode([]byte(files.PublicKey))
	require.NotNil(t, block)
	assert.Empty(t, rest)
	assert.Equal(t, "CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "my-client", cert.Subject.CommonName)
	assert.Equal(t, x509.SHA512WithRSA, cert.SignatureAlgorithm)
	assert.True(t, cert.NotBefore.Equal(now))
	assert.True(t, cert.NotAfter.Equal(now.AddDate(5, 0, 0)))
	assert.NoError(t, cert.CheckSignatureFrom(cert))

	assert.Equal(t, Thumbprint(block.Bytes), files.Thumbprint)
	assert.Len(t, files.Thumbprint, 40)
	assert.Regexp(t, "^[0-9A-F]+$", files.Thumbprint)

	key, pfxCert, err := pkcs12.Decode(files.PrivateKey, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, pfxCert.Raw)
	rsaKey, ok := key.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, cert.PublicKey.(*rsa.PublicKey).N, rsaKey.N)

	_, _, err = pkcs12.Decode(files.PrivateKey, "wrong")
	assert.Error(t, err)
}

func TestGenerate_RequiresCommonName(t *testing.T) {
	_, err := Generate(Options{CommonName: "  "})
	assert.ErrorIs(t, err, ErrCommonNameRequired)
}

func TestGenerate_ValidityMonths(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	files, err := Generate(Options{
		CommonName:     "short",
		Bits:           2048,
		ValidityMonths: 13,
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)
	assert.True(t, files.Certificate.NotAfter.Equal(now.AddDate(0, 13, 0)))
}

func TestFileNames(t *testing.T) {
	priv, pub, thumb := FileNames("cn")
	assert.Equal(t, "cn_private.pfx", priv)
	assert.Equal(t, "cn_public.pem", pub)
	assert.Equal(t, "cn_thumbprint.txt", thumb)
}
