package cmd

import (
	"context"
	"fmt"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/cli"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/clientsecret"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/policy"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/selvbetjening"
	"github.com/folkehelseinstituttet/helseid-tools/pkg/token"
)

// newClientSecretService wires the token client, the self-service API and,
// when enabled, the key policy.
func newClientSecretService(ctx context.Context, rt *cli.Runtime, withPolicy bool) (*clientsecret.Service, error) {
	opts := []clientsecret.Option{
		clientsecret.WithLogger(rt.Log.For(logger.ComponentSelvbetjening)),
	}

	if withPolicy && rt.Config.Policy.Enabled {
		evaluator, err := policy.NewEvaluator(ctx, policy.Options{File: rt.Config.Policy.File}, rt.Log.For(logger.ComponentPolicy))
		if err != nil {
			return nil, fmt.Errorf("failed to load key policy: %w", err)
		}
		opts = append(opts, clientsecret.WithPolicy(evaluator))
	}

	return clientsecret.NewService(
		token.NewClient(rt.HTTP, rt.Log.For(logger.ComponentToken)),
		selvbetjening.NewClient(rt.HTTP, rt.Log.For(logger.ComponentSelvbetjening)),
		rt.Keys,
		opts...,
	), nil
}
