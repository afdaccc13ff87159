package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/klothoplatform/cortexrag/pkg/config"
	"github.com/klothoplatform/cortexrag/pkg/deploy"
	"github.com/klothoplatform/cortexrag/pkg/documents"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/klothoplatform/cortexrag/pkg/stack"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fs = afero.NewOsFs()

func render(cfg *config.Config) ([]byte, error) {
	if err := cfg.Require(config.InfraKeys...); err != nil {
		return nil, err
	}
	st, err := stack.Build(stack.Props{
		WarehouseAccount:          cfg.SnowflakeAccount,
		WarehouseUser:             cfg.SnowflakeUser,
		IdentityCenterInstanceArn: cfg.IdentityCenterInstanceArn,
	})
	if err != nil {
		return nil, err
	}
	return st.Template()
}

func request(cfg *config.Config, template []byte) deploy.Request {
	return deploy.Request{
		StackName: cfg.StackName,
		Region:    cfg.Region,
		Template:  template,
		Tags:      deploy.DefaultTags(),
	}
}

func newDeployer(ctx context.Context, cfg *config.Config) (deploy.Deployer, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return deploy.New(cfg, awsCfg)
}

func newSynthCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Render the CloudFormation template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := render(rootConfig.cfg)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(template)
				return err
			}
			if err := afero.WriteFile(fs, out, template, 0644); err != nil {
				return fmt.Errorf("could not write template: %w", err)
			}
			logging.GetLogger(cmd.Context()).Info("wrote template", zap.String("path", out))
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the template to this file instead of stdout")
	return cmd
}

func newDeployCmd() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the stack and print its outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rootConfig.cfg
			if preview {
				return runPreview(ctx, cmd.OutOrStdout(), cfg)
			}
			out, err := runDeploy(ctx, cfg)
			if err != nil {
				return err
			}
			printOutputs(cmd.OutOrStdout(), out)
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&preview, "preview", false, "Show the changes a deploy would make without applying them")
	return cmd
}

func runDeploy(ctx context.Context, cfg *config.Config) (*deploy.Outputs, error) {
	template, err := render(cfg)
	if err != nil {
		return nil, err
	}
	d, err := newDeployer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d.Deploy(ctx, request(cfg, template))
}

func runPreview(ctx context.Context, w io.Writer, cfg *config.Config) error {
	template, err := render(cfg)
	if err != nil {
		return err
	}
	d, err := newDeployer(ctx, cfg)
	if err != nil {
		return err
	}
	p, err := d.Preview(ctx, request(cfg, template))
	if err != nil {
		return err
	}
	printPreview(w, p)
	return nil
}

// printPreview lists the planned changes and the per-action counts. A backend may report counts without
// listing the individual changes.
func printPreview(w io.Writer, p *deploy.Preview) {
	actions := make([]string, 0, len(p.Summary))
	for action, n := range p.Summary {
		if action != "same" && n > 0 {
			actions = append(actions, action)
		}
	}
	if len(p.Changes) == 0 && len(actions) == 0 {
		fmt.Fprintf(w, "No changes to %s\n", p.StackName)
		return
	}
	fmt.Fprintf(w, "Changes to %s:\n", p.StackName)
	for _, c := range p.Changes {
		line := fmt.Sprintf("  %-8s %-36s %s", c.Action, c.LogicalId, c.ResourceType)
		if c.Replacement != "" && c.Replacement != "False" {
			line += " (replacement: " + c.Replacement + ")"
		}
		fmt.Fprintln(w, line)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Fprintf(w, "%s: %d\n", action, p.Summary[action])
	}
}

func printOutputs(w io.Writer, out *deploy.Outputs) {
	label := color.New(color.FgHiCyan)
	fmt.Fprintf(w, "Outputs of %s:\n", out.StackName)
	for _, kv := range out.Pairs() {
		if kv[1] == "" {
			continue
		}
		label.Fprintf(w, "  %-26s ", kv[0])
		fmt.Fprintln(w, kv[1])
	}
}

func newOutputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Print the outputs of the deployed stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rootConfig.cfg
			d, err := newDeployer(ctx, cfg)
			if err != nil {
				return err
			}
			out, err := deploy.LookupOutputs(ctx, d, cfg.StackNames()...)
			if err != nil {
				return err
			}
			printOutputs(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyStackName), "", "Stack name (defaults to a region specific name)")
	cmd.Flags().String(config.FlagName(config.KeyStateDir), "", "Directory for local state (pulumi backend, staged documents)")
	return cmd
}

func newDestroyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Empty the document bucket and delete the stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := rootConfig.cfg
			if !yes {
				return fmt.Errorf("destroy deletes stack %s and every document in its bucket, rerun with --yes to confirm", cfg.StackName)
			}
			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}
			d, err := deploy.New(cfg, awsCfg)
			if err != nil {
				return err
			}
			names := cfg.StackNames()
			return deploy.Teardown(ctx, d, documents.NewBucket(awsCfg, fs), deploy.Request{
				StackName: names[0],
				Region:    cfg.Region,
			}, names[1:]...)
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyStackName), "", "Stack name (defaults to a region specific name)")
	cmd.Flags().String(config.FlagName(config.KeyStateDir), "", "Directory for local state (pulumi backend, staged documents)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the deletion")
	return cmd
}
