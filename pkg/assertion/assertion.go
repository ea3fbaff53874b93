// Package assertion builds private_key_jwt client assertions (RFC 7523).
package assertion

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
)

// Type is the client_assertion_type value for JWT bearer assertions.
const Type = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Lifetime is how long an assertion is valid.
const Lifetime = 60 * time.Second

// now is replaced in tests.
var now = time.Now

// Create signs a client assertion for clientID with audience issuer.
// The JWK's alg selects the signing method (RS512 when unset).
func Create(issuer, clientID, privateJwk string) (string, error) {
	key, err := jwk.ParsePrivate(privateJwk)
	if err != nil {
		return "", err
	}

	alg := key.Algorithm()
	if alg == "" {
		alg = jwk.DefaultAlgorithm
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("%w: unsupported signing algorithm %q", jwk.ErrInvalidKeyMaterial, alg)
	}
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if _, ok := key.Key().(*rsa.PrivateKey); !ok {
			return "", fmt.Errorf("%w: %s requires an RSA key", jwk.ErrInvalidKeyMaterial, alg)
		}
	case *jwt.SigningMethodECDSA:
		if _, ok := key.Key().(*ecdsa.PrivateKey); !ok {
			return "", fmt.Errorf("%w: %s requires an EC key", jwk.ErrInvalidKeyMaterial, alg)
		}
	default:
		return "", fmt.Errorf("%w: unsupported signing algorithm %q", jwk.ErrInvalidKeyMaterial, alg)
	}

	iat := now()
	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{issuer},
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(Lifetime)),
	}

	tok := jwt.NewWithClaims(method, claims)
	if kid := key.KeyID(); kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key.Key())
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}
