package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/config"
)

const serviceName = "helseid-cli"

// NewRootCmd builds the command tree with its own configuration.
func NewRootCmd(opts ...cli.Option) *cobra.Command {
	var cfgFile string
	v := config.InitViper(serviceName)
	o := cli.NewOptions(serviceName, opts...)

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Manage HelseID client keys through the self-service API",
		Long: `helseid-cli rotates and inspects the keys a HelseID client authenticates
with. It acquires a DPoP-bound token with the client's current private key and
calls the HelseID self-service API. It can also generate new JSON web keys
and self-signed certificates.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	config.BindFlags(rootCmd, v)

	rootCmd.AddCommand(
		newUpdateClientKeyCmd(v, o),
		newReadClientSecretExpirationCmd(v, o),
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

// bindHelseIDFlags binds the endpoint flags shared by the HelseID commands.
func bindHelseIDFlags(cmd *cobra.Command, v *viper.Viper) error {
	if err := config.BindCommandFlag(cmd, v, "helseid.authority", "AuthorityUrl"); err != nil {
		return err
	}
	return config.BindCommandFlag(cmd, v, "helseid.base_address", "BaseAddress")
}
