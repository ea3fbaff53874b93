// Package cli holds the plumbing shared by the helseid-cli and crypto-cli
// commands: configuration, logging, telemetry, metrics and key storage.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/config"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/keystore"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/metrics"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/telemetry"
)

// Version is set at build time.
var Version = "dev"

// ErrFailed marks a command that has already logged why it failed.
var ErrFailed = errors.New("command failed")

// Options are fixed when a command tree is built and shared by its commands.
type Options struct {
	ServiceName string
	// Keys generates every key pair created by the commands.
	Keys jwk.KeyPairGenerator
	// CertificateBits overrides the certificate key size when non-zero.
	CertificateBits int
}

// Option customizes Options.
type Option func(*Options)

// WithKeys replaces the RSA key pair generator.
func WithKeys(g jwk.KeyPairGenerator) Option {
	return func(o *Options) { o.Keys = g }
}

func WithCertificateBits(bits int) Option {
	return func(o *Options) { o.CertificateBits = bits }
}

// NewOptions returns the options for the serviceName command tree.
func NewOptions(serviceName string, opts ...Option) Options {
	o := Options{ServiceName: serviceName, Keys: jwk.RSAGenerator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Config is the configuration of a CLI run.
type Config struct {
	config.CommonConfig `mapstructure:",squash"`
}

// Runtime carries the collaborators of one command invocation.
type Runtime struct {
	Config   Config
	Log      *logger.Logger
	Store    keystore.FileStore
	HTTP     *http.Client
	Keys     jwk.KeyPairGenerator
	Registry *prometheus.Registry

	CertificateBits int

	shutdown telemetry.ShutdownFunc
}

// Setup loads configuration and builds the runtime for cmd. Logs go to the
// command's output stream.
func Setup(cmd *cobra.Command, v *viper.Viper, component logger.Component, opts Options) (*Runtime, error) {
	var cfg Config
	if err := config.Load(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	log := logger.NewWithWriter(component, out, useColors(out))
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:       opts.ServiceName,
		ServiceVersion:    Version,
		Environment:       cfg.Environment,
		Enabled:           cfg.OTel.Enabled,
		CollectorEndpoint: cfg.OTel.CollectorEndpoint,
		Writer:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Storage.Backend == keystore.BackendS3 {
		config.LoadStorageConfigFromEnv(&cfg.Storage)
	}
	store, err := keystore.Open(ctx, cfg.Storage)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	log.For(logger.ComponentKeyStore).Debug("Key store opened", "backend", cfg.Storage.Backend)

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Log:      log,
		Store:    store,
		HTTP:     telemetry.NewHTTPClient(cfg.HelseID.HTTPTimeout),
		Keys:     opts.Keys,
		Registry: registry,
		shutdown: shutdown,

		CertificateBits: opts.CertificateBits,
	}, nil
}

// Close pushes metrics and flushes traces. Failures are logged, not returned.
func (r *Runtime) Close(ctx context.Context) {
	if err := metrics.Push(ctx, metrics.PushConfig{
		URL:      r.Config.Metrics.PushgatewayURL,
		Job:      r.Config.Metrics.Job,
		Grouping: map[string]string{"environment": r.Config.Environment},
	}, r.Registry); err != nil {
		r.Log.Warn("Failed to push metrics", "error", err)
	}
	if err := r.shutdown(ctx); err != nil {
		r.Log.Warn("Failed to flush traces", "error", err)
	}
}

// Run executes root and returns the process exit code.
func Run(root *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrFailed) {
			log := logger.NewWithWriter(logger.ComponentCLI, root.ErrOrStderr(), useColors(root.ErrOrStderr()))
			log.Error(err.Error())
		}
		return 1
	}
	return 0
}

func useColors(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return w == os.Stdout || w == os.Stderr
}
