package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/klothoplatform/cortexrag/pkg/automation"
	"github.com/klothoplatform/cortexrag/pkg/config"
	"github.com/klothoplatform/cortexrag/pkg/deploy"
	"github.com/klothoplatform/cortexrag/pkg/documents"
	"github.com/klothoplatform/cortexrag/pkg/handoff"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/klothoplatform/cortexrag/pkg/warehouse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetup(cfg *config.Config, awsCfg aws.Config, d deploy.Deployer) (*automation.Setup, error) {
	docs, err := documents.Corpus(cfg.Documents)
	if err != nil {
		return nil, err
	}
	settings := warehouse.Settings{
		Account:  cfg.SnowflakeAccount,
		User:     cfg.SnowflakeUser,
		Password: cfg.SnowflakePassword,
		Role:     cfg.SnowflakeRole,
	}
	return &automation.Setup{
		Deployer: d,
		Fetcher:  documents.NewFetcher(fs, filepath.Join(cfg.StateDir, "documents"), os.Stderr),
		Uploader: documents.NewBucket(awsCfg, fs),
		OpenWarehouse: func(ctx context.Context) (automation.Warehouse, error) {
			session, err := warehouse.Open(ctx, settings)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Handoff:    handoff.New(awsCfg),
		StackNames: cfg.StackNames(),
		Documents:  docs,
	}, nil
}

func runSetup(cmd *cobra.Command, cfg *config.Config, awsCfg aws.Config, d deploy.Deployer) error {
	ctx := cmd.Context()
	setup, err := newSetup(cfg, awsCfg, d)
	if err != nil {
		return err
	}
	result, err := setup.Run(ctx)
	automation.PrintSummary(cmd.OutOrStdout(), result, err)
	if err != nil {
		return err
	}
	if cfg.OpenBrowser {
		if err := automation.OpenWebExperience(result); err != nil {
			logging.GetLogger(ctx).Warn("could not open browser", zap.Error(err))
		}
	}
	return nil
}

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Load the documents into Snowflake and connect the deployed assistant to Cortex Search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootConfig.cfg
			if err := cfg.Require(config.SetupKeys...); err != nil {
				return err
			}
			awsCfg, err := loadAWSConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			d, err := deploy.New(cfg, awsCfg)
			if err != nil {
				return err
			}
			return runSetup(cmd, cfg, awsCfg, d)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy the stack, then run setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rootConfig.cfg
			// Setup needs the password too, checked before anything is deployed.
			keys := append([]string{config.KeySnowflakePassword}, config.InfraKeys...)
			if err := cfg.Require(keys...); err != nil {
				return err
			}
			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}
			d, err := deploy.New(cfg, awsCfg)
			if err != nil {
				return err
			}
			template, err := render(cfg)
			if err != nil {
				return err
			}
			out, err := d.Deploy(ctx, request(cfg, template))
			if err != nil {
				return err
			}
			printOutputs(cmd.OutOrStdout(), out)
			return runSetup(cmd, cfg, awsCfg, d)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
