package jwk

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

var (
	// ErrInvalidKeyMaterial is returned when a JWK document cannot be parsed or used for signing.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	// ErrUnsupportedKeyType is returned for keys that are neither RSA nor EC.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	// ErrInvalidAlgorithm is returned when key generation is asked for a disallowed algorithm.
	ErrInvalidAlgorithm = errors.New("invalid signing algorithm")
	// ErrInvalidKeyUse is returned when key generation is asked for a disallowed key use.
	ErrInvalidKeyUse = errors.New("invalid key use")
)

// SigningKey is an immutable, parsed JSON Web Key.
type SigningKey struct {
	jwk jose.JSONWebKey
}

// Parse decodes a JWK document.
func Parse(data string) (SigningKey, error) {
	var k jose.JSONWebKey
	if err := k.UnmarshalJSON([]byte(strings.TrimSpace(data))); err != nil {
		return SigningKey{}, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if !k.Valid() {
		return SigningKey{}, fmt.Errorf("%w: key is not valid", ErrInvalidKeyMaterial)
	}
	return SigningKey{jwk: k}, nil
}

// ParsePrivate decodes a JWK document and requires it to carry private key material.
func ParsePrivate(data string) (SigningKey, error) {
	k, err := Parse(data)
	if err != nil {
		return SigningKey{}, err
	}
	if !k.IsPrivate() {
		return SigningKey{}, fmt.Errorf("%w: key has no private component", ErrInvalidKeyMaterial)
	}
	return k, nil
}

// FromJSONWebKey wraps an already decoded go-jose key.
func FromJSONWebKey(k jose.JSONWebKey) SigningKey {
	return SigningKey{jwk: k}
}

func (k SigningKey) KeyID() string     { return k.jwk.KeyID }
func (k SigningKey) Algorithm() string { return k.jwk.Algorithm }
func (k SigningKey) Use() string       { return k.jwk.Use }

// Type resolves the key family once from the decoded key.
func (k SigningKey) Type() KeyType {
	return keyTypeOf(k.jwk.Key)
}

// IsPrivate reports whether the key carries private material.
func (k SigningKey) IsPrivate() bool {
	return k.jwk.Key != nil && !k.jwk.IsPublic()
}

// Key returns the underlying crypto key (private or public).
func (k SigningKey) Key() any {
	return k.jwk.Key
}

// JSONWebKey returns a copy of the go-jose representation.
func (k SigningKey) JSONWebKey() jose.JSONWebKey {
	return k.jwk
}

// Public returns the key with all private members removed.
// kid, alg and use are preserved.
func (k SigningKey) Public() SigningKey {
	return SigningKey{jwk: k.jwk.Public()}
}

// PublicComponents returns a JWK that carries only the type-specific public
// members (kty and n/e or crv/x/y), for embedding in proof headers.
func (k SigningKey) PublicComponents() (jose.JSONWebKey, error) {
	if k.Type() == KeyTypeUnknown {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, k.jwk.Key)
	}
	pub := k.jwk.Public()
	return jose.JSONWebKey{Key: pub.Key}, nil
}

// DefaultAlgorithm returns the key's alg, or a proof algorithm derived from its type.
func (k SigningKey) DefaultAlgorithm() string {
	if k.jwk.Algorithm != "" {
		return k.jwk.Algorithm
	}
	return defaultProofAlgorithm(k.jwk.Key)
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint, base64url encoded without padding.
func (k SigningKey) Thumbprint() (string, error) {
	tp, err := k.jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

// MarshalPublic serializes the public part of the key.
func (k SigningKey) MarshalPublic() (string, error) {
	data, err := k.jwk.Public().MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(data), nil
}

// MarshalPrivate serializes the full key, private members included.
func (k SigningKey) MarshalPrivate() (string, error) {
	if !k.IsPrivate() {
		return "", fmt.Errorf("%w: key has no private component", ErrInvalidKeyMaterial)
	}
	data, err := k.jwk.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(data), nil
}

// ExtractKeyID reads the "kid" member of a JWK document without validating
// any key material. It returns "" when the member is absent.
func ExtractKeyID(data string) (string, error) {
	var doc struct {
		Kid *string `json:"kid"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &doc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	if doc.Kid == nil {
		return "", nil
	}
	return *doc.Kid, nil
}
