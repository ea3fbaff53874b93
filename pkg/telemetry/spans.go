package telemetry

import (
	"context"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/folkehelseinstituttet/helseid-tools"

// Span attribute keys for HelseID client administration.
var (
	AttrClientID     = attribute.Key("helseid.client.id")
	AttrAuthority    = attribute.Key("helseid.authority")
	AttrTokenURL     = attribute.Key("helseid.token_endpoint")
	AttrScope        = attribute.Key("helseid.scope")
	AttrNonceRetry   = attribute.Key("helseid.dpop.nonce_retry")
	AttrErrorCode    = attribute.Key("helseid.error")
	AttrKeyID        = attribute.Key("helseid.key.id")
	AttrSecretCount  = attribute.Key("helseid.secret.count")
	AttrSecretFound  = attribute.Key("helseid.secret.found")
	AttrHTTPStatus   = attribute.Key("helseid.http.status")
	AttrPolicyResult = attribute.Key("helseid.policy.allow")
)

// Tracer returns the project-wide OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span for a tool operation.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCallSpan starts a client span for one call to HelseID or the
// self-service API, named "<method> <target>".
func StartCallSpan(ctx context.Context, method, target string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, method+" "+target,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// SetSpanError records an error on the span and sets its status to Error.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanFailed marks a span as failed without a Go error.
func SetSpanFailed(span trace.Span, description string) {
	span.SetStatus(codes.Error, description)
}

// SetSpanOK sets the span status to OK.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// RecordResponseStatus tags the span with the HTTP status of a reply and
// fails it unless the status is 2xx.
func RecordResponseStatus(span trace.Span, status int) {
	span.SetAttributes(AttrHTTPStatus.Int(status))
	if status >= 200 && status < 300 {
		SetSpanOK(span)
		return
	}
	SetSpanFailed(span, strconv.Itoa(status)+" "+http.StatusText(status))
}

// RecordTokenError fails the span with an OAuth error code such as
// invalid_client or use_dpop_nonce.
func RecordTokenError(span trace.Span, code, description string) {
	span.SetAttributes(AttrErrorCode.String(code))
	if description == "" {
		description = code
	}
	SetSpanFailed(span, description)
}
