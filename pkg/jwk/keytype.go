package jwk

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
)

// KeyType identifies the family of a JSON Web Key.
type KeyType int

const (
	KeyTypeUnknown KeyType = iota
	KeyTypeRSA
	KeyTypeEllipticCurve
)

// String returns the JWK "kty" value for the key type.
func (t KeyType) String() string {
	switch t {
	case KeyTypeRSA:
		return "RSA"
	case KeyTypeEllipticCurve:
		return "EC"
	default:
		return "unknown"
	}
}

// PublicMembers lists the JWK members that make up the public part of a key of this type.
func (t KeyType) PublicMembers() []string {
	switch t {
	case KeyTypeRSA:
		return []string{"kty", "n", "e"}
	case KeyTypeEllipticCurve:
		return []string{"kty", "crv", "x", "y"}
	default:
		return nil
	}
}

// keyTypeOf resolves the key type of a parsed crypto key.
func keyTypeOf(key any) KeyType {
	switch key.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		return KeyTypeRSA
	case *ecdsa.PrivateKey, *ecdsa.PublicKey:
		return KeyTypeEllipticCurve
	default:
		return KeyTypeUnknown
	}
}

// defaultProofAlgorithm picks a JWS algorithm for a key when none is configured.
// RSA keys sign with RSASSA-PSS; EC keys use the algorithm matching their curve.
func defaultProofAlgorithm(key any) string {
	var curve elliptic.Curve
	switch k := key.(type) {
	case *rsa.PrivateKey, *rsa.PublicKey:
		return "PS256"
	case *ecdsa.PrivateKey:
		curve = k.Curve
	case *ecdsa.PublicKey:
		curve = k.Curve
	default:
		return ""
	}
	switch curve.Params().BitSize {
	case 384:
		return "ES384"
	case 521:
		return "ES512"
	default:
		return "ES256"
	}
}
