package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/config"
)

const serviceName = "crypto-cli"

// NewRootCmd builds the command tree with its own configuration.
func NewRootCmd(opts ...cli.Option) *cobra.Command {
	var cfgFile string
	v := config.InitViper(serviceName)
	o := cli.NewOptions(serviceName, opts...)

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Generate keys and certificates for HelseID clients",
		Long: `crypto-cli generates RSA JSON web keys and self-signed certificates that
can be registered as client secrets in HelseID.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	config.BindFlags(rootCmd, v)

	rootCmd.AddCommand(
		cli.NewGenerateJSONWebKeyCmd(v, o),
		cli.NewGenerateCertificateCmd(v, o),
	)
	return rootCmd
}

func Execute() {
	if code := cli.Run(NewRootCmd()); code != 0 {
		os.Exit(code)
	}
}
