// Package certificate generates self-signed client certificates.
package certificate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

const (
	DefaultBits           = 4096
	DefaultValidityMonths = 60
)

// ErrCommonNameRequired is returned for a blank common name.
var ErrCommonNameRequired = errors.New("certificate common name is required")

// Options controls certificate generation. Zero values select the defaults.
type Options struct {
	CommonName string
	Password   string
	Bits       int
	// ValidityMonths counts from the time of generation.
	ValidityMonths int
	Random         io.Reader
	Now            func() time.Time
}

// Files is the generated material as written to disk.
type Files struct {
	// PrivateKey is a password protected PKCS#12 bundle of key and certificate.
	PrivateKey []byte
	// PublicKey is the PEM encoded certificate.
	PublicKey string
	// Thumbprint is the upper-case hex SHA-1 of the DER certificate.
	Thumbprint string

	Certificate *x509.Certificate
}

// FileNames returns the private, public and thumbprint file names for cn.
func FileNames(cn string) (string, string, string) {
	return cn + "_private.pfx", cn + "_public.pem", cn + "_thumbprint.txt"
}

// Generate creates an RSA key and a self-signed SHA-512 certificate for it.
func Generate(opts Options) (Files, error) {
	cn := strings.TrimSpace(opts.CommonName)
	if cn == "" {
		return Files{}, ErrCommonNameRequired
	}
	if opts.Bits == 0 {
		opts.Bits = DefaultBits
	}
	if opts.ValidityMonths <= 0 {
		opts.ValidityMonths = DefaultValidityMonths
	}
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	key, err := rsa.GenerateKey(opts.Random, opts.Bits)
	if err != nil {
		return Files{}, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(opts.Random, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Files{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := opts.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, opts.ValidityMonths, 0),
		SignatureAlgorithm:    x509.SHA512WithRSA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(opts.Random, template, template, &key.PublicKey, key)
	if err != nil {
		return Files{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Files{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, opts.Password)
	if err != nil {
		return Files{}, fmt.Errorf("failed to encode PKCS#12: %w", err)
	}

	return Files{
		PrivateKey:  pfx,
		PublicKey:   string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		Thumbprint:  Thumbprint(der),
		Certificate: cert,
	}, nil
}

// Thumbprint is the upper-case hex SHA-1 of a DER certificate.
func Thumbprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
