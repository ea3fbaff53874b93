package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/clientsecret"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

type updateClientKeyOptions struct {
	clientID               string
	newPublicJwkPath       string
	newPublicJwk           string
	existingPrivateJwkPath string
	existingPrivateJwk     string
	yes                    bool
}

func newUpdateClientKeyCmd(v *viper.Viper, o cli.Options) *cobra.Command {
	var opts updateClientKeyOptions

	cmd := &cobra.Command{
		Use:   "updateclientkey",
		Short: "Update a client key in HelseID",
		Long: `Replace the key a HelseID client authenticates with. The existing private
key authenticates the request; the new public key is registered in its place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdateClientKey(cmd, v, o, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.clientID, "ClientId", "c", "", "Client ID for client to update")
	cmd.Flags().StringVar(&opts.newPublicJwkPath, "NewPublicJwkPath", "", "Path to the new public key file")
	cmd.Flags().StringVarP(&opts.newPublicJwk, "NewPublicJwk", "n", "", "New public key value")
	cmd.Flags().StringVar(&opts.existingPrivateJwkPath, "ExistingPrivateJwkPath", "", "Path to the existing private key file")
	cmd.Flags().StringVarP(&opts.existingPrivateJwk, "ExistingPrivateJwk", "e", "", "Existing private key value")
	cmd.Flags().StringP("AuthorityUrl", "a", "", "Authority url to update secret with")
	cmd.Flags().StringP("BaseAddress", "b", "", "Base Address url to update secret with")
	cmd.Flags().BoolVarP(&opts.yes, "Yes", "y", false, "Automatically confirm update without prompting user")
	cmd.MarkFlagRequired("ClientId")
	cmd.Flags().SetNormalizeFunc(cli.FlagAliases(map[string]string{
		"np": "NewPublicJwkPath",
		"ep": "ExistingPrivateJwkPath",
	}))

	return cmd
}

func runUpdateClientKey(cmd *cobra.Command, v *viper.Viper, o cli.Options, opts updateClientKeyOptions) error {
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

	environment := rt.Config.Environment
	log.Info("Environment: " + environment)

	if !opts.yes {
		log.Info(fmt.Sprintf("Update client in environment %s? y/n", environment))
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			log.Info("Operation cancelled.")
			return nil
		}
	}

	newKey, err := cli.ResolveKey(ctx, rt.Store, log, opts.newPublicJwk, opts.newPublicJwkPath, "New key")
	if err != nil {
		return err
	}
	oldKey, err := cli.ResolveKey(ctx, rt.Store, log, opts.existingPrivateJwk, opts.existingPrivateJwkPath, "Old key")
	if err != nil {
		return err
	}
	if newKey == "" || oldKey == "" {
		log.Error("One or more parameters empty.")
		log.Info(fmt.Sprintf("New key found: %t Old key found: %t", newKey != "", oldKey != ""))
		return cli.ErrFailed
	}

	svc, err := newClientSecretService(ctx, rt, true)
	if err != nil {
		return err
	}

	log.Section("Updating keys for ClientId: " + opts.clientID)
	result, err := svc.UpdateClientSecret(ctx,
		clientsecret.ClientConfiguration{ClientID: opts.clientID, Jwk: oldKey},
		rt.Config.HelseID.Authority, rt.Config.HelseID.BaseAddress, newKey)
	if err != nil {
		return err
	}

	if !result.IsOk() {
		log.Error("Details: " + result.Errors().Error())
		return cli.ErrFailed
	}

	value := result.Value()
	log.Success("Keys successfully updated.")
	log.Info("Updated keys for Client: " + value.ClientID)
	log.Info("New public key Id: " + value.NewKeyID)
	log.Info("Expiration Date: " + value.ExpirationDate)
	return nil
}
