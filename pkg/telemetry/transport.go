package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapTransport wraps an http.RoundTripper with OpenTelemetry instrumentation
// so that outbound HTTP requests propagate trace context.
func WrapTransport(transport http.RoundTripper) http.RoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return otelhttp.NewTransport(transport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// NewHTTPClient returns the client used for all calls to HelseID.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: WrapTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}
