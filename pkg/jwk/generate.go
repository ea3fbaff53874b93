package jwk

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

const (
	DefaultAlgorithm = "RS512"
	DefaultUse       = "sig"
	DefaultBits      = 4096
)

var (
	allowedAlgorithms = []string{"RS512"}
	allowedKeyUses    = []string{"sig", "enc"}
)

// GenerateOptions controls RSA key pair generation.
type GenerateOptions struct {
	Algorithm string
	Use       string
	// KeyID overrides the thumbprint-derived kid.
	KeyID string
	Bits  int
}

// KeyPair holds the serialized halves of a generated key.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
	KeyID      string
}

// KeyPairGenerator creates new JWK key pairs.
type KeyPairGenerator interface {
	GenerateKeyPair(opts GenerateOptions) (KeyPair, error)
}

// RSAGenerator generates RSA key pairs. A nil Random uses crypto/rand.
type RSAGenerator struct {
	Random io.Reader
}

// Generate creates a key pair with the default RSA generator.
func Generate(opts GenerateOptions) (KeyPair, error) {
	return RSAGenerator{}.GenerateKeyPair(opts)
}

// GenerateKeyPair implements KeyPairGenerator.
func (g RSAGenerator) GenerateKeyPair(opts GenerateOptions) (KeyPair, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = DefaultAlgorithm
	}
	if opts.Use == "" {
		opts.Use = DefaultUse
	}
	if opts.Bits == 0 {
		opts.Bits = DefaultBits
	}
	if !slices.Contains(allowedAlgorithms, opts.Algorithm) {
		return KeyPair{}, fmt.Errorf("%w: '%s'. Expected one of: %s",
			ErrInvalidAlgorithm, opts.Algorithm, strings.Join(allowedAlgorithms, ", "))
	}
	if !slices.Contains(allowedKeyUses, opts.Use) {
		return KeyPair{}, fmt.Errorf("%w: '%s'. Expected one of: %s",
			ErrInvalidKeyUse, opts.Use, strings.Join(allowedKeyUses, ", "))
	}

	random := g.Random
	if random == nil {
		random = rand.Reader
	}
	priv, err := rsa.GenerateKey(random, opts.Bits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	key := SigningKey{jwk: jose.JSONWebKey{
		Key:       priv,
		Algorithm: opts.Algorithm,
		Use:       opts.Use,
	}}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		if kid, err = key.Thumbprint(); err != nil {
			return KeyPair{}, err
		}
	}
	key.jwk.KeyID = kid

	public, err := key.MarshalPublic()
	if err != nil {
		return KeyPair{}, err
	}
	private, err := key.MarshalPrivate()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: public, PrivateKey: private, KeyID: kid}, nil
}

// OutputTransform selects how a generated key pair is written to disk.
type OutputTransform string

const (
	TransformJSONEscape OutputTransform = "jsonEscape"
	TransformBase64     OutputTransform = "base64"
)

// ParseOutputTransform accepts the transform names case-insensitively; "" and "json" mean jsonEscape.
func ParseOutputTransform(s string) (OutputTransform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "jsonescape":
		return TransformJSONEscape, nil
	case "base64":
		return TransformBase64, nil
	default:
		return "", fmt.Errorf("unknown output transform %q (expected %s or %s)", s, TransformJSONEscape, TransformBase64)
	}
}

// FileExtension returns the extension used for key files of this transform.
func (t OutputTransform) FileExtension() string {
	if t == TransformBase64 {
		return ".txt"
	}
	return ".json"
}

// Apply transforms a serialized key.
func (t OutputTransform) Apply(key string) string {
	if t == TransformBase64 {
		return base64.StdEncoding.EncodeToString([]byte(key))
	}
	return key
}
