// Package token acquires DPoP-bound access tokens from HelseID with a
// private_key_jwt client assertion.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/assertion"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/dpop"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/metrics"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/telemetry"
)

const (
	// ErrorUseDPoPNonce is the error code a server returns to demand a nonce.
	ErrorUseDPoPNonce = "use_dpop_nonce"
	// ErrorDiscovery is the error code for a failed metadata lookup.
	ErrorDiscovery = "discovery_error"
	// ErrorInvalidRequest is used when the request cannot be built locally.
	ErrorInvalidRequest = "invalid_request"
)

// Request describes a client credentials grant.
type Request struct {
	Authority string
	ClientID  string
	// Jwk is the client's private key used for the client assertion.
	Jwk string
	// Scopes is a space separated scope list.
	Scopes string
	// DPoPKey is the private JWK the token is bound to.
	DPoPKey string
}

// Response is the outcome of a token request. Provider errors are
// reported here rather than as Go errors.
type Response struct {
	AccessToken      string
	TokenType        string
	ExpiresIn        int
	IsError          bool
	Error            string
	ErrorDescription string
}

func failed(code, description string) Response {
	return Response{IsError: true, Error: code, ErrorDescription: description}
}

// Requester is implemented by Client.
type Requester interface {
	RequestDPoPToken(ctx context.Context, req Request) (Response, error)
}

// Client talks to the HelseID discovery and token endpoints.
type Client struct {
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a token client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{httpClient: httpClient, log: log}
}

// RequestDPoPToken runs discovery and the token request, retrying once when
// the server answers use_dpop_nonce with a DPoP-Nonce header. Only transport
// failures and cancellation are returned as errors.
func (c *Client) RequestDPoPToken(ctx context.Context, req Request) (Response, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.RequestDPoPToken",
		telemetry.AttrClientID.String(req.ClientID),
		telemetry.AttrAuthority.String(req.Authority),
		telemetry.AttrScope.String(req.Scopes),
	)
	defer span.End()

	resp, err := c.requestToken(ctx, span, req)
	switch {
	case err != nil:
		telemetry.SetSpanError(span, err)
		metrics.TokenRequests.WithLabelValues(metrics.OutcomeError).Inc()
	case resp.IsError:
		telemetry.RecordTokenError(span, resp.Error, resp.ErrorDescription)
		metrics.TokenRequests.WithLabelValues(metrics.OutcomeError).Inc()
	default:
		telemetry.SetSpanOK(span)
		metrics.TokenRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	}
	return resp, err
}

func (c *Client) requestToken(ctx context.Context, span trace.Span, req Request) (Response, error) {
	dpopKey, err := jwk.ParsePrivate(req.DPoPKey)
	if err != nil {
		return failed(ErrorInvalidRequest, fmt.Sprintf("invalid DPoP key: %v", err)), nil
	}
	generator := dpop.NewGenerator(dpopKey, dpop.DefaultAlgorithm)

	c.log.Flow(logger.DirectionOutgoing, "Get metadata from discovery endpoint", "authority", req.Authority)
	issuer, tokenURL, resp, err := c.discover(ctx, req.Authority)
	if err != nil || resp.IsError {
		return resp, err
	}
	span.SetAttributes(telemetry.AttrTokenURL.String(tokenURL))

	c.log.Flow(logger.DirectionOutgoing, "Requesting DPoP token", "client_id", req.ClientID, "token_endpoint", tokenURL)
	tok, retrieveErr, err := c.exchange(ctx, req, issuer, tokenURL, generator, "")
	if err != nil {
		return Response{}, err
	}

	if retrieveErr != nil {
		nonce := ""
		if retrieveErr.Response != nil {
			nonce = strings.TrimSpace(retrieveErr.Response.Header.Get(dpop.NonceHeaderName))
		}
		if retrieveErr.ErrorCode != ErrorUseDPoPNonce || nonce == "" {
			return providerError(retrieveErr), nil
		}

		c.log.Flow(logger.DirectionOutgoing, "Server requested a DPoP nonce, retrying token request", "client_id", req.ClientID)
		span.SetAttributes(telemetry.AttrNonceRetry.Bool(true))
		metrics.NonceRetries.Inc()

		tok, retrieveErr, err = c.exchange(ctx, req, issuer, tokenURL, generator, nonce)
		if err != nil {
			return Response{}, err
		}
		if retrieveErr != nil {
			return providerError(retrieveErr), nil
		}
	}

	c.log.Flow(logger.DirectionIncoming, "Token acquired", "client_id", req.ClientID, "token_type", tok.TokenType)
	out := Response{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return out, nil
}

// discover resolves the issuer and token endpoint of authority.
func (c *Client) discover(ctx context.Context, authority string) (string, string, Response, error) {
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), strings.TrimRight(authority, "/"))
	if err != nil {
		if isFatal(ctx, err) {
			return "", "", Response{}, fmt.Errorf("failed to fetch discovery document: %w", err)
		}
		c.log.Deny("Discovery failed", "authority", authority, "error", err)
		return "", "", failed(ErrorDiscovery, err.Error()), nil
	}

	var claims struct {
		Issuer string `json:"issuer"`
	}
	if err := provider.Claims(&claims); err != nil {
		return "", "", failed(ErrorDiscovery, fmt.Sprintf("malformed discovery document: %v", err)), nil
	}
	if claims.Issuer == "" {
		return "", "", failed(ErrorDiscovery, "discovery document has no issuer"), nil
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", "", failed(ErrorDiscovery, "discovery document has no token_endpoint"), nil
	}
	return claims.Issuer, tokenURL, Response{}, nil
}

// exchange performs one token request with a fresh assertion and proof.
// A provider error comes back as *oauth2.RetrieveError; anything fatal as err.
func (c *Client) exchange(ctx context.Context, req Request, issuer, tokenURL string, generator *dpop.Generator, nonce string) (*oauth2.Token, *oauth2.RetrieveError, error) {
	clientAssertion, err := assertion.Create(issuer, req.ClientID, req.Jwk)
	if err != nil {
		return nil, &oauth2.RetrieveError{
			ErrorCode:        ErrorInvalidRequest,
			ErrorDescription: fmt.Sprintf("failed to create client assertion: %v", err),
		}, nil
	}

	cfg := clientcredentials.Config{
		ClientID:  req.ClientID,
		TokenURL:  tokenURL,
		Scopes:    strings.Fields(req.Scopes),
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {assertion.Type},
			"client_assertion":      {clientAssertion},
		},
	}

	httpClient := &http.Client{
		Transport: &dpop.Transport{
			Base:      c.httpClient.Transport,
			Generator: generator,
			URL:       tokenURL,
			Nonce:     nonce,
		},
		Timeout: c.httpClient.Timeout,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, httpClient))
	if err == nil {
		return tok, nil, nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return nil, retrieveErr, nil
	}
	if isFatal(ctx, err) {
		return nil, nil, fmt.Errorf("token request failed: %w", err)
	}
	return nil, &oauth2.RetrieveError{ErrorCode: "invalid_response", ErrorDescription: err.Error()}, nil
}

func providerError(e *oauth2.RetrieveError) Response {
	code := e.ErrorCode
	if code == "" && e.Response != nil {
		code = e.Response.Status
	}
	return failed(code, fmt.Sprintf("Error: %s, ErrorDescription: %s", code, e.ErrorDescription))
}

// isFatal reports transport failures and cancellation.
func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
