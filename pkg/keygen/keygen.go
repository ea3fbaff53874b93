// Package keygen generates key material and writes it to a key store.
package keygen

import (
	"context"
	"fmt"
	"strings"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/certificate"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/keystore"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/metrics"
)

// JSONWebKeyOptions describes a JWK pair to generate.
type JSONWebKeyOptions struct {
	FileNamePrefix string
	// Directory defaults to the current directory.
	Directory string
	KeyID     string
	Transform jwk.OutputTransform
}

// CertificateOptions describes a certificate to generate.
type CertificateOptions struct {
	CommonName     string
	Password       string
	Directory      string
	ValidityMonths int
}

// Written lists the files created by a generator.
type Written struct {
	PrivateKey string
	PublicKey  string
	Thumbprint string
	KeyID      string
}

// Writer generates key material and stores it.
type Writer struct {
	store keystore.FileStore
	keys  jwk.KeyPairGenerator
	// certBits is the RSA size used for certificates; 0 selects the default.
	certBits int
	log      *logger.Logger
}

// NewWriter creates a Writer. A nil keys uses jwk.RSAGenerator.
func NewWriter(store keystore.FileStore, keys jwk.KeyPairGenerator, log *logger.Logger) *Writer {
	if keys == nil {
		keys = jwk.RSAGenerator{}
	}
	return &Writer{store: store, keys: keys, log: log}
}

// WithCertificateBits overrides the certificate key size.
func (w *Writer) WithCertificateBits(bits int) *Writer {
	w.certBits = bits
	return w
}

// WriteJSONWebKey writes <prefix>_private and <prefix>_public with the
// extension of the output transform.
func (w *Writer) WriteJSONWebKey(ctx context.Context, opts JSONWebKeyOptions) (Written, error) {
	prefix := strings.TrimSpace(opts.FileNamePrefix)
	if prefix == "" {
		return Written{}, fmt.Errorf("key file name prefix is required")
	}
	if opts.Transform == "" {
		opts.Transform = jwk.TransformJSONEscape
	}

	dir, err := w.ensureDirectory(ctx, opts.Directory, "Key")
	if err != nil {
		return Written{}, err
	}

	pair, err := w.keys.GenerateKeyPair(jwk.GenerateOptions{KeyID: opts.KeyID})
	if err != nil {
		return Written{}, err
	}

	ext := opts.Transform.FileExtension()
	out := Written{
		PrivateKey: w.store.Join(dir, prefix+"_private"+ext),
		PublicKey:  w.store.Join(dir, prefix+"_public"+ext),
		KeyID:      pair.KeyID,
	}

	if err := w.store.WritePrivate(ctx, out.PrivateKey, []byte(opts.Transform.Apply(pair.PrivateKey))); err != nil {
		return Written{}, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := w.store.WriteText(ctx, out.PublicKey, opts.Transform.Apply(pair.PublicKey)); err != nil {
		return Written{}, fmt.Errorf("failed to write public key: %w", err)
	}

	metrics.GeneratedKeys.WithLabelValues("jwk").Inc()
	w.log.Key(pair.KeyID, "Key pair generated")
	w.log.Info("Private key saved: " + out.PrivateKey)
	w.log.Info("Public key saved: " + out.PublicKey)
	return out, nil
}

// WriteCertificate writes <cn>_private.pfx, <cn>_public.pem and <cn>_thumbprint.txt.
func (w *Writer) WriteCertificate(ctx context.Context, opts CertificateOptions) (Written, error) {
	dir, err := w.ensureDirectory(ctx, opts.Directory, "Certificate")
	if err != nil {
		return Written{}, err
	}

	files, err := certificate.Generate(certificate.Options{
		CommonName:     opts.CommonName,
		Password:       opts.Password,
		Bits:           w.certBits,
		ValidityMonths: opts.ValidityMonths,
	})
	if err != nil {
		return Written{}, err
	}

	privateName, publicName, thumbprintName := certificate.FileNames(strings.TrimSpace(opts.CommonName))
	out := Written{
		PrivateKey: w.store.Join(dir, privateName),
		PublicKey:  w.store.Join(dir, publicName),
		Thumbprint: w.store.Join(dir, thumbprintName),
	}

	if err := w.store.WritePrivate(ctx, out.PrivateKey, files.PrivateKey); err != nil {
		return Written{}, fmt.Errorf("failed to write private certificate: %w", err)
	}
	if err := w.store.WriteText(ctx, out.PublicKey, files.PublicKey); err != nil {
		return Written{}, fmt.Errorf("failed to write public certificate: %w", err)
	}
	if err := w.store.WriteText(ctx, out.Thumbprint, files.Thumbprint); err != nil {
		return Written{}, fmt.Errorf("failed to write thumbprint: %w", err)
	}

	metrics.GeneratedKeys.WithLabelValues("certificate").Inc()
	w.log.Info("Certificate thumbprint: " + files.Thumbprint)
	w.log.Info("Private certificate saved: " + out.PrivateKey)
	w.log.Info("Public certificate saved: " + out.PublicKey)
	w.log.Info("Thumbprint saved: " + out.Thumbprint)
	return out, nil
}

func (w *Writer) ensureDirectory(ctx context.Context, dir, label string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	exists, err := w.store.PathExists(ctx, dir)
	if err != nil {
		return "", err
	}
	if !exists {
		w.log.Info(label+" path did not exist. Creating folder", "path", dir)
		if err := w.store.CreateDirectory(ctx, dir); err != nil {
			return "", err
		}
	}
	return dir, nil
}
