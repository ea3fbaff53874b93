// Package selvbetjening is a client for the HelseID self-service
// client-secret endpoint.
package selvbetjening

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/dpop"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/telemetry"
)

// ClientSecretPath is resolved against the base address as an absolute path.
const ClientSecretPath = "/v1/client-secret"

// ClientSecret is one secret registered for a client.
type ClientSecret struct {
	Expiration    *Timestamp `json:"expiration"`
	Kid           string     `json:"kid"`
	JwkThumbprint string     `json:"jwkThumbprint"`
	Origin        string     `json:"origin"`
	PublicJwk     string     `json:"publicJwk"`
}

// Timestamp is an expiration date as HelseID serializes it. Dates may come
// without a UTC offset ("2028-08-08T00:00:00"); those are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expiration is not a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized expiration %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// TimeOrNil returns the instant, or nil for a missing expiration.
func (t *Timestamp) TimeOrNil() *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time
	return &v
}

// UpdateResult is the payload returned after a secret update.
type UpdateResult struct {
	Expiration string `json:"expiration"`
}

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Status   int    `json:"status,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDetail) Error() string {
	if p.Title == "" {
		return p.Detail
	}
	return p.Title + ": " + p.Detail
}

// API is the self-service surface used by the client secret operations.
// A non-nil ProblemDetail reports an unsuccessful response; error is
// reserved for transport failures.
type API interface {
	GetClientSecrets(ctx context.Context, baseAddress, dpopKey, accessToken string) ([]ClientSecret, *ProblemDetail, error)
	UpdateClientSecret(ctx context.Context, baseAddress, dpopKey, accessToken, newPublicJwk string) (*UpdateResult, *ProblemDetail, error)
}

// Client implements API over HTTP with DPoP-bound tokens.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a self-service client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{httpClient: httpClient, log: log}
}

// GetClientSecrets lists the secrets of the client the token was issued to.
func (c *Client) GetClientSecrets(ctx context.Context, baseAddress, dpopKey, accessToken string) ([]ClientSecret, *ProblemDetail, error) {
	resp, body, err := c.do(ctx, http.MethodGet, baseAddress, dpopKey, accessToken, nil)
	if err != nil {
		return nil, nil, err
	}
	if problem := problemFrom(resp, body); problem != nil {
		return nil, problem, nil
	}

	var secrets []ClientSecret
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &secrets); err != nil {
			return nil, &ProblemDetail{
				Title:  "Invalid response",
				Detail: fmt.Sprintf("failed to decode client secrets: %v", err),
				Status: resp.StatusCode,
			}, nil
		}
	}
	c.log.Flow(logger.DirectionIncoming, "Client secrets received", "count", len(secrets))
	return secrets, nil, nil
}

// UpdateClientSecret registers newPublicJwk as the client's secret. The JWK
// document is sent as a JSON string. A successful response without content
// returns a nil result and nil problem.
func (c *Client) UpdateClientSecret(ctx context.Context, baseAddress, dpopKey, accessToken, newPublicJwk string) (*UpdateResult, *ProblemDetail, error) {
	payload, err := json.Marshal(newPublicJwk)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, baseAddress, dpopKey, accessToken, payload)
	if err != nil {
		return nil, nil, err
	}
	if problem := problemFrom(resp, body); problem != nil {
		return nil, problem, nil
	}
	return decodeUpdateResult(body), nil, nil
}

func (c *Client) do(ctx context.Context, method, baseAddress, dpopKey, accessToken string, payload []byte) (*http.Response, []byte, error) {
	endpoint, err := resolve(baseAddress)
	if err != nil {
		return nil, nil, err
	}

	ctx, span := telemetry.StartCallSpan(ctx, method, "selvbetjening client-secret")
	defer span.End()

	key, err := jwk.ParsePrivate(dpopKey)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("invalid DPoP key: %w", err)
	}
	proof, err := dpop.CreateProof(dpop.ProofRequest{
		URL:         endpoint,
		Method:      method,
		Key:         key,
		Algorithm:   dpop.DefaultAlgorithm,
		AccessToken: accessToken,
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("failed to generate DPoP proof: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "DPoP "+accessToken)
	req.Header.Set(dpop.HeaderName, proof)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Flow(logger.DirectionOutgoing, method+" "+endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	telemetry.RecordResponseStatus(span, resp.StatusCode)
	return resp, body, nil
}

func resolve(baseAddress string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseAddress))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base address %q", baseAddress)
	}
	return base.ResolveReference(&url.URL{Path: ClientSecretPath}).String(), nil
}

// problemFrom returns nil for 2xx responses.
func problemFrom(resp *http.Response, body []byte) *ProblemDetail {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	problem := &ProblemDetail{}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, problem); err != nil {
			problem = &ProblemDetail{}
		}
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(resp.StatusCode)
	}
	if problem.Status == 0 {
		problem.Status = resp.StatusCode
	}
	if problem.Detail == "" {
		if len(trimmed) > 0 && !json.Valid(trimmed) {
			problem.Detail = string(trimmed)
		} else {
			problem.Detail = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}
	return problem
}

// decodeUpdateResult accepts {"expiration": ...}, a bare JSON string or plain text.
func decodeUpdateResult(body []byte) *UpdateResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}

	var obj struct {
		Expiration json.RawMessage `json:"expiration"`
	}
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &obj) == nil {
		if len(obj.Expiration) == 0 || string(obj.Expiration) == "null" {
			return nil
		}
		var s string
		if json.Unmarshal(obj.Expiration, &s) == nil {
			return &UpdateResult{Expiration: s}
		}
		return &UpdateResult{Expiration: string(obj.Expiration)}
	}

	var s string
	if json.Unmarshal(trimmed, &s) == nil {
		if s == "" {
			return nil
		}
		return &UpdateResult{Expiration: s}
	}
	return &UpdateResult{Expiration: string(trimmed)}
}
