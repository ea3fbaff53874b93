package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/clientsecret"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

type readExpirationOptions struct {
	clientID               string
	existingPrivateJwkPath string
	existingPrivateJwk     string
}

func newReadClientSecretExpirationCmd(v *viper.Viper, o cli.Options) *cobra.Command {
	var opts readExpirationOptions

	cmd := &cobra.Command{
		Use:   "readclientsecretexpiration",
		Short: "Read client secret expiration date from HelseID",
		Long: `Print the expiration of the secret registered for the client's current key,
as seconds since the Unix epoch. The secret is matched on the key's kid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReadClientSecretExpiration(cmd, v, o, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.clientID, "ClientId", "c", "", "Client ID for client to query")
	cmd.Flags().StringVar(&opts.existingPrivateJwkPath, "ExistingPrivateJwkPath", "", "Path to the existing private key file")
	cmd.Flags().StringVarP(&opts.existingPrivateJwk, "ExistingPrivateJwk", "e", "", "Existing private key value")
	cmd.Flags().StringP("AuthorityUrl", "a", "", "Authority url to query secret expiration with")
	cmd.Flags().StringP("BaseAddress", "b", "", "Base Address url to query secret expiration with")
	cmd.MarkFlagRequired("ClientId")
	cmd.Flags().SetNormalizeFunc(cli.FlagAliases(map[string]string{"ep": "ExistingPrivateJwkPath"}))

	return cmd
}

func runReadClientSecretExpiration(cmd *cobra.Command, v *viper.Viper, o cli.Options, opts readExpirationOptions) error {
	if err := bindHelseIDFlags(cmd, v); err != nil {
		return err
	}
	rt, err := cli.Setup(cmd, v, logger.ComponentCLI, o)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer rt.Close(ctx)

	log := rt.Log
	if err := rt.Config.HelseID.Validate(); err != nil {
		return err
	}

	privateKey, err := cli.ResolveKey(ctx, rt.Store, log, opts.existingPrivateJwk, opts.existingPrivateJwkPath, "Private Key")
	if err != nil {
		return err
	}
	if privateKey == "" {
		log.Error("No private key provided. Either ExistingPrivateJwk or ExistingPrivateJwkPath must be specified.")
		return cli.ErrFailed
	}

	svc, err := newClientSecretService(ctx, rt, false)
	if err != nil {
		return err
	}

	result, err := svc.ReadClientSecretExpiration(ctx,
		clientsecret.ClientConfiguration{ClientID: opts.clientID, Jwk: privateKey},
		rt.Config.HelseID.Authority, rt.Config.HelseID.BaseAddress)
	if err != nil {
		return err
	}
	if !result.IsOk() {
		log.Error("Details: " + result.Errors().Error())
		return cli.ErrFailed
	}

	selected := result.Value().Selected
	if selected == nil {
		log.Error("No secret found with matching Kid.")
		return cli.ErrFailed
	}
	log.Debug("Kid: " + selected.KeyID)
	if selected.ExpirationDate == nil {
		log.Warn("The client secret with Kid: " + selected.KeyID + " does not have an expiration date.")
		log.Info("No expiration time (Null)")
		return nil
	}

	log.Info(strconv.FormatInt(selected.ExpirationDate.Unix(), 10))
	return nil
}
