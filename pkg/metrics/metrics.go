package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "helseid"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeAmbiguous = "ambiguous"
	OutcomeInvalid   = "invalid"
)

var (
	TokenRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_requests_total",
		Help:      "DPoP token requests by outcome",
	}, []string{"outcome"})

	NonceRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dpop_nonce_retries_total",
		Help:      "Token requests retried after a use_dpop_nonce challenge",
	})

	SecretOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_secret_operations_total",
		Help:      "Client secret reads and updates by outcome",
	}, []string{"operation", "outcome"})

	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Duration of client secret operations including token acquisition",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"operation"})

	GeneratedKeys = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generated_keys_total",
		Help:      "Key pairs and certificates generated",
	}, []string{"kind"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{TokenRequests, NonceRetries, SecretOperations, OperationDuration, GeneratedKeys}
}

// Register registers all metrics on reg (or the default registerer if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// PushConfig configures delivery to a Prometheus Pushgateway.
type PushConfig struct {
	URL      string
	Job      string
	Grouping map[string]string
}

// Push sends the metrics gathered by g to the configured Pushgateway.
// An empty URL disables pushing.
func Push(ctx context.Context, cfg PushConfig, g prometheus.Gatherer) error {
	if cfg.URL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "helseid-cli"
	}
	pusher := push.New(cfg.URL, job).Gatherer(g)
	for k, v := range cfg.Grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
