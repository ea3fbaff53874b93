package clientsecret

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/metrics"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/policy"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/selvbetjening"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/telemetry"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/token"
)

const (
	operationRead   = "read_expiration"
	operationUpdate = "update_secret"

	noErrorMessage = "No Error message provided by API"
)

// KeyPolicy decides whether a public key may be registered.
type KeyPolicy interface {
	Check(ctx context.Context, publicJwk string) (policy.Decision, error)
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy checks new public keys before they are uploaded.
func WithPolicy(p KeyPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithDPoPKeyOptions overrides the options used for the per-operation DPoP key.
func WithDPoPKeyOptions(opts jwk.GenerateOptions) Option {
	return func(s *Service) { s.dpopKeyOptions = opts }
}

// Service implements the read and update operations.
type Service struct {
	tokens         token.Requester
	api            selvbetjening.API
	keys           jwk.KeyPairGenerator
	policy         KeyPolicy
	dpopKeyOptions jwk.GenerateOptions
	log            *logger.Logger
}

// NewService wires a Service.
func NewService(tokens token.Requester, api selvbetjening.API, keys jwk.KeyPairGenerator, opts ...Option) *Service {
	s := &Service{
		tokens: tokens,
		api:    api,
		keys:   keys,
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadClientSecretExpiration lists the client's secrets and selects the one
// whose kid equals the kid of cfg.Jwk. A caller key without kid selects nothing.
func (s *Service) ReadClientSecretExpiration(ctx context.Context, cfg ClientConfiguration, authority, baseAddress string) (Result[ExpirationResponse], error) {
	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(operationRead))
	defer timer.ObserveDuration()

	ctx, span := telemetry.StartSpan(ctx, "clientsecret.ReadClientSecretExpiration",
		telemetry.AttrClientID.String(cfg.ClientID))
	defer span.End()

	if errs := cfg.Validate(); !errs.IsValid() {
		s.log.Deny("Invalid client configuration", "errors", errs.Error())
		telemetry.SetSpanFailed(span, errs.Error())
		metrics.SecretOperations.WithLabelValues(operationRead, metrics.OutcomeInvalid).Inc()
		return Fail[ExpirationResponse](errs), nil
	}

	dpopKey, tok, err := s.acquireToken(ctx, cfg, authority)
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.SecretOperations.WithLabelValues(operationRead, metrics.OutcomeError).Inc()
		return Result[ExpirationResponse]{}, err
	}
	if tok.IsError {
		errs := &ErrorResult{}
		errs.Add(ErrorMessage{
			Text:       "Token request failed " + tok.ErrorDescription,
			HTTPStatus: http.StatusUnauthorized,
			Type:       ErrorTypeToken,
		})
		return s.failRead(span, errs), nil
	}

	secrets, problem, err := s.api.GetClientSecrets(ctx, baseAddress, dpopKey, tok.AccessToken)
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.SecretOperations.WithLabelValues(operationRead, metrics.OutcomeError).Inc()
		return Result[ExpirationResponse]{}, fmt.Errorf("failed to read client secrets: %w", err)
	}
	if problem != nil {
		errs := &ErrorResult{}
		errs.Add(ErrorMessage{
			Text:       "Failed to read client secret expiration: " + problem.Detail,
			HTTPStatus: problemStatus(problem),
			Type:       ErrorTypeAPI,
		})
		return s.failRead(span, errs), nil
	}

	resp := ExpirationResponse{All: make([]ClientSecret, 0, len(secrets))}
	for _, secret := range secrets {
		resp.All = append(resp.All, ClientSecret{
			KeyID:          secret.Kid,
			ExpirationDate: secret.Expiration.TimeOrNil(),
			Origin:         secret.Origin,
		})
	}

	kid, _ := jwk.ExtractKeyID(cfg.Jwk)
	if kid == "" {
		s.log.Warn("Client key has no kid, no secret can be selected")
	}
	resp.Selected = selectByKeyID(resp.All, kid)

	span.SetAttributes(
		telemetry.AttrSecretCount.Int(len(resp.All)),
		telemetry.AttrSecretFound.Bool(resp.Selected != nil),
		telemetry.AttrKeyID.String(kid),
	)
	telemetry.SetSpanOK(span)
	metrics.SecretOperations.WithLabelValues(operationRead, metrics.OutcomeSuccess).Inc()
	s.log.Flow(logger.DirectionIncoming, "Client secrets read", "client_id", cfg.ClientID, "count", len(resp.All), "selected", resp.Selected != nil)
	return Ok(resp), nil
}

// selectByKeyID returns the first secret with the given kid. An empty kid never matches.
func selectByKeyID(secrets []ClientSecret, kid string) *ClientSecret {
	if kid == "" {
		return nil
	}
	for i := range secrets {
		if secrets[i].KeyID == kid {
			selected := secrets[i]
			return &selected
		}
	}
	return nil
}

// UpdateClientSecret registers newPublicJwk as the client's secret.
func (s *Service) UpdateClientSecret(ctx context.Context, cfg ClientConfiguration, authority, baseAddress, newPublicJwk string) (Result[UpdateResponse], error) {
	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(operationUpdate))
	defer timer.ObserveDuration()

	ctx, span := telemetry.StartSpan(ctx, "clientsecret.UpdateClientSecret",
		telemetry.AttrClientID.String(cfg.ClientID))
	defer span.End()

	if errs := cfg.Validate(); !errs.IsValid() {
		s.log.Deny("Invalid client configuration", "errors", errs.Error())
		telemetry.SetSpanFailed(span, errs.Error())
		metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeInvalid).Inc()
		return Fail[UpdateResponse](errs), nil
	}

	if s.policy != nil {
		decision, err := s.policy.Check(ctx, newPublicJwk)
		if err != nil {
			telemetry.SetSpanError(span, err)
			metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeError).Inc()
			return Result[UpdateResponse]{}, fmt.Errorf("failed to evaluate key policy: %w", err)
		}
		span.SetAttributes(telemetry.AttrPolicyResult.Bool(decision.Allow))
		if !decision.Allow {
			errs := &ErrorResult{}
			for _, v := range decision.Violations {
				errs.Add(ErrorMessage{Text: "New key rejected by policy: " + v, Type: ErrorTypePolicy})
			}
			if errs.IsValid() {
				errs.Add(ErrorMessage{Text: "New key rejected by policy", Type: ErrorTypePolicy})
			}
			telemetry.SetSpanFailed(span, errs.Error())
			metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeInvalid).Inc()
			return Fail[UpdateResponse](errs), nil
		}
	}

	dpopKey, tok, err := s.acquireToken(ctx, cfg, authority)
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeError).Inc()
		return Result[UpdateResponse]{}, err
	}
	if tok.IsError {
		description := tok.ErrorDescription
		if strings.TrimSpace(description) == "" {
			description = noErrorMessage
		}
		errs := &ErrorResult{}
		errs.Add(ErrorMessage{
			Text:       "Token request failed: " + description,
			HTTPStatus: http.StatusUnauthorized,
			Type:       ErrorTypeToken,
		})
		return s.failUpdate(span, errs, metrics.OutcomeError), nil
	}

	s.log.Flow(logger.DirectionOutgoing, "Updating client secret", "client_id", cfg.ClientID)
	result, problem, err := s.api.UpdateClientSecret(ctx, baseAddress, dpopKey, tok.AccessToken, newPublicJwk)
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeError).Inc()
		return Result[UpdateResponse]{}, fmt.Errorf("failed to update client secret: %w", err)
	}
	if problem != nil {
		errs := &ErrorResult{}
		errs.Add(ErrorMessage{
			Text:       fmt.Sprintf("Failed to update client %s. Error: %s", cfg.ClientID, problem.Detail),
			HTTPStatus: problemStatus(problem),
			Type:       ErrorTypeAPI,
		})
		return s.failUpdate(span, errs, metrics.OutcomeError), nil
	}
	if result == nil {
		errs := &ErrorResult{}
		errs.Add(ErrorMessage{
			Text: fmt.Sprintf("Error occured while updating client %s. Error: HelseID did not return with the expected content. "+
				"Check if client was updated before retrying.", cfg.ClientID),
			HTTPStatus: http.StatusBadGateway,
			Type:       ErrorTypeAmbiguous,
		})
		return s.failUpdate(span, errs, metrics.OutcomeAmbiguous), nil
	}

	newKeyID, _ := jwk.ExtractKeyID(newPublicJwk)
	span.SetAttributes(telemetry.AttrKeyID.String(newKeyID))
	telemetry.SetSpanOK(span)
	metrics.SecretOperations.WithLabelValues(operationUpdate, metrics.OutcomeSuccess).Inc()
	s.log.Success("Client secret updated", "client_id", cfg.ClientID, "kid", newKeyID)

	return Ok(UpdateResponse{
		ExpirationDate: result.Expiration,
		ClientID:       cfg.ClientID,
		NewKeyID:       newKeyID,
	}), nil
}

// acquireToken creates a fresh DPoP key and requests a token bound to it.
func (s *Service) acquireToken(ctx context.Context, cfg ClientConfiguration, authority string) (string, token.Response, error) {
	pair, err := s.keys.GenerateKeyPair(s.dpopKeyOptions)
	if err != nil {
		return "", token.Response{}, fmt.Errorf("failed to generate DPoP key: %w", err)
	}

	tok, err := s.tokens.RequestDPoPToken(ctx, token.Request{
		Authority: authority,
		ClientID:  cfg.ClientID,
		Jwk:       cfg.Jwk,
		Scopes:    Scope,
		DPoPKey:   pair.PrivateKey,
	})
	if err != nil {
		return "", token.Response{}, err
	}
	if tok.IsError {
		s.log.Deny("Token request failed", "client_id", cfg.ClientID, "error", tok.Error)
	}
	return pair.PrivateKey, tok, nil
}

func (s *Service) failRead(span trace.Span, errs *ErrorResult) Result[ExpirationResponse] {
	s.fail(span, errs, operationRead, metrics.OutcomeError)
	return Fail[ExpirationResponse](errs)
}

func (s *Service) failUpdate(span trace.Span, errs *ErrorResult, outcome string) Result[UpdateResponse] {
	s.fail(span, errs, operationUpdate, outcome)
	return Fail[UpdateResponse](errs)
}

func (s *Service) fail(span trace.Span, errs *ErrorResult, operation, outcome string) {
	s.log.Deny("Operation failed", "operation", operation, "errors", errs.Error())
	telemetry.SetSpanFailed(span, errs.Error())
	metrics.SecretOperations.WithLabelValues(operation, outcome).Inc()
}

// problemStatus is the HTTP status a problem was reported with, 400 when unknown.
func problemStatus(p *selvbetjening.ProblemDetail) int {
	if p.Status == 0 {
		return http.StatusBadRequest
	}
	return p.Status
}
