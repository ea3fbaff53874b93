package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
)

const (
	// HeaderName is the request header carrying the proof.
	HeaderName = "DPoP"
	// NonceHeaderName is the response header an authorization server uses to hand out a nonce.
	NonceHeaderName = "DPoP-Nonce"
	// TokenType is the JOSE "typ" of a proof.
	TokenType = "dpop+jwt"
	// DefaultAlgorithm signs proofs made with RSA keys.
	DefaultAlgorithm = "PS256"
)

// now is replaced in tests.
var now = time.Now

// Claims are the payload members of a DPoP proof.
type Claims struct {
	JTI   string `json:"jti"`
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	IAT   int64  `json:"iat"`
	Nonce string `json:"nonce,omitempty"`
	ATH   string `json:"ath,omitempty"`
}

// ProofRequest describes the HTTP request a proof is bound to.
type ProofRequest struct {
	URL    string
	Method string
	Key    jwk.SigningKey
	// Algorithm defaults to PS256 for RSA keys and the curve algorithm for EC keys.
	Algorithm string
	// Nonce is the server-provided DPoP-Nonce, if any.
	Nonce string
	// AccessToken binds the proof to a token via the ath claim.
	AccessToken string
}

// CreateProof builds and signs a fresh DPoP proof. Every call gets a new jti.
func CreateProof(req ProofRequest) (string, error) {
	publicJWK, err := req.Key.PublicComponents()
	if err != nil {
		return "", err
	}
	if !req.Key.IsPrivate() {
		return "", fmt.Errorf("%w: DPoP key has no private component", jwk.ErrInvalidKeyMaterial)
	}

	alg := req.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
		if req.Key.Type() == jwk.KeyTypeEllipticCurve {
			alg = req.Key.Public().DefaultAlgorithm()
		}
	}

	signerOpts := (&jose.SignerOptions{}).
		WithType(TokenType).
		WithHeader("jwk", publicJWK)

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(alg),
		Key:       req.Key.Key(),
	}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	claims := Claims{
		JTI:   uuid.New().String(),
		HTM:   req.Method,
		HTU:   req.URL,
		IAT:   now().Unix(),
		Nonce: req.Nonce,
	}
	if req.AccessToken != "" {
		claims.ATH = AccessTokenHash(req.AccessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize proof: %w", err)
	}
	return proof, nil
}

// AccessTokenHash computes the ath claim: base64url (no padding) of SHA-256 over the token.
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ParseProof decodes a proof without verifying its signature.
func ParseProof(proof string) (map[string]any, Claims, error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return nil, Claims{}, errors.New("proof must have three segments")
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, Claims{}, fmt.Errorf("failed to decode header: %w", err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, Claims{}, fmt.Errorf("failed to parse header: %w", err)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, Claims{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, Claims{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	return header, claims, nil
}
