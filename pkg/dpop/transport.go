package dpop

import (
	"fmt"
	"net/http"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
)

// Generator creates proofs for a single DPoP key.
type Generator struct {
	key       jwk.SigningKey
	algorithm string
}

// NewGenerator returns a generator for key. An empty algorithm selects the default for the key type.
func NewGenerator(key jwk.SigningKey, algorithm string) *Generator {
	return &Generator{key: key, algorithm: algorithm}
}

// Proof creates a proof for method and url.
func (g *Generator) Proof(method, url, nonce, accessToken string) (string, error) {
	return CreateProof(ProofRequest{
		URL:         url,
		Method:      method,
		Key:         g.key,
		Algorithm:   g.algorithm,
		Nonce:       nonce,
		AccessToken: accessToken,
	})
}

// SignRequest sets the DPoP header on req. The htu is the request URL
// without query or fragment.
func (g *Generator) SignRequest(req *http.Request, nonce, accessToken string) error {
	u := *req.URL
	u.RawQuery = ""
	u.Fragment = ""
	proof, err := g.Proof(req.Method, u.String(), nonce, accessToken)
	if err != nil {
		return fmt.Errorf("failed to generate DPoP proof: %w", err)
	}
	req.Header.Set(HeaderName, proof)
	return nil
}

// Transport is an http.RoundTripper that attaches a fresh proof to every request.
type Transport struct {
	Base      http.RoundTripper
	Generator *Generator
	// URL, when set, is used as htu instead of the request URL.
	URL   string
	Nonce string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	out := req.Clone(req.Context())
	if t.URL != "" {
		proof, err := t.Generator.Proof(out.Method, t.URL, t.Nonce, "")
		if err != nil {
			return nil, fmt.Errorf("failed to generate DPoP proof: %w", err)
		}
		out.Header.Set(HeaderName, proof)
	} else if err := t.Generator.SignRequest(out, t.Nonce, ""); err != nil {
		return nil, err
	}
	return base.RoundTrip(out)
}
