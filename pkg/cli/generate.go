package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/jwk"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/keygen"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

// NewGenerateJSONWebKeyCmd returns the generatejsonwebkey command.
func NewGenerateJSONWebKeyCmd(v *viper.Viper, opts Options) *cobra.Command {
	var (
		prefix    string
		directory string
		kid       string
		transform string
	)

	cmd := &cobra.Command{
		Use:   "generatejsonwebkey",
		Short: "Generate a private and public RSA JSON web key",
		Long: `Generate an RSA (RS512, 4096 bit) JSON web key pair and store it as
<prefix>_private.json and <prefix>_public.json in the key directory.
With --OutputTransform base64 the files are base64 encoded and end in .txt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputTransform, err := jwk.ParseOutputTransform(transform)
			if err != nil {
				return err
			}

			rt, err := Setup(cmd, v, logger.ComponentKeyGen, opts)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			_, err = keygen.NewWriter(rt.Store, rt.Keys, rt.Log).WriteJSONWebKey(cmd.Context(), keygen.JSONWebKeyOptions{
				FileNamePrefix: prefix,
				Directory:      directory,
				KeyID:          kid,
				Transform:      outputTransform,
			})
			return err
		},
	}

	cmd.Flags().StringVarP(&prefix, "KeyFileNamePrefix", "n", "", "Prefix of the key file names")
	cmd.Flags().StringVarP(&directory, "KeyDirectory", "d", "", "Directory to store the keys in (default is the current directory)")
	cmd.Flags().StringVarP(&kid, "KeyCustomKid", "k", "", "Custom kid for both keys (default is the key thumbprint)")
	cmd.Flags().StringVar(&transform, "OutputTransform", string(jwk.TransformJSONEscape), "Output transform: jsonEscape or base64")
	cmd.MarkFlagRequired("KeyFileNamePrefix")
	cmd.Flags().SetNormalizeFunc(FlagAliases(map[string]string{"ot": "OutputTransform"}))

	return cmd
}

// NewGenerateCertificateCmd returns the generatecertificate command.
func NewGenerateCertificateCmd(v *viper.Viper, opts Options) *cobra.Command {
	var cert keygen.CertificateOptions

	cmd := &cobra.Command{
		Use:   "generatecertificate",
		Short: "Generate a self-signed certificate",
		Long: `Generate a self-signed RSA certificate and store it as <cn>_private.pfx
(password protected), <cn>_public.pem and <cn>_thumbprint.txt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Setup(cmd, v, logger.ComponentCertGen, opts)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			_, err = keygen.NewWriter(rt.Store, rt.Keys, rt.Log).
				WithCertificateBits(rt.CertificateBits).
				WriteCertificate(cmd.Context(), cert)
			return err
		},
	}

	cmd.Flags().StringVar(&cert.CommonName, "CertificateCommonName", "", "Common Name (CN) for the certificate")
	cmd.Flags().StringVar(&cert.Password, "CertificatePassword", "", "Password for the generated certificate")
	cmd.Flags().StringVar(&cert.Directory, "CertificateDirectory", "", "Directory to store the generated certificates")
	cmd.Flags().IntVar(&cert.ValidityMonths, "ValidityMonths", 60, "Number of months the certificate is valid")
	cmd.MarkFlagRequired("CertificateCommonName")
	cmd.MarkFlagRequired("CertificatePassword")
	cmd.Flags().SetNormalizeFunc(FlagAliases(map[string]string{
		"cn":  "CertificateCommonName",
		"pwd": "CertificatePassword",
		"dir": "CertificateDirectory",
	}))

	return cmd
}
