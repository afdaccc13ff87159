package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fatih/color"
	"github.com/klothoplatform/cortexrag/pkg/clicommon"
	"github.com/klothoplatform/cortexrag/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var rootConfig struct {
	clicommon.CommonConfig
	configFile string

	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	rootConfig.v = config.New()

	root := &cobra.Command{
		Use:           "cortexrag",
		Short:         "Deploy and set up an Amazon Q Business assistant backed by Snowflake Cortex Search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	clicommon.SetupRoot(root, &rootConfig.CommonConfig, loadConfig)

	flags := root.PersistentFlags()
	flags.StringVar(&rootConfig.configFile, "config", "", "Config file (defaults to ./cortexrag.yaml when present)")
	flags.String(config.FlagName(config.KeyRegion), "", "AWS region")
	flags.String(config.FlagName(config.KeyBackend), "", "Deployment backend (cloudformation or pulumi)")

	root.AddCommand(
		newSynthCmd(),
		newDeployCmd(),
		newOutputsCmd(),
		newDestroyCmd(),
		newSetupCmd(),
		newUpCmd(),
	)
	return root
}

// loadConfig runs after flag parsing, so the flags of the invoked command are the ones bound.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.BindFlags(rootConfig.v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(rootConfig.v, rootConfig.configFile)
	if err != nil {
		return err
	}
	rootConfig.cfg = cfg
	return nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("could not load aws config: %w", err)
	}
	return awsCfg, nil
}

func printErr(err error) {
	errs := multierr.Errors(err)
	if len(errs) > 1 {
		color.New(color.FgRed).Fprintf(os.Stderr, "%d errors:\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, e)
		}
		return
	}
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printErr(err)
		os.Exit(1)
	}
}
