package clicommon

import (
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type CommonConfig struct {
	Verbosity LevelledFlag
	JSONLog   bool
	LogsDir   string
	Color     string
}

// DefaultLevels quiets the raw engine output unless -vv is given.
var DefaultLevels = map[string]zapcore.Level{
	"deploy.pulumi.engine": zap.WarnLevel,
}

func (c CommonConfig) LogOpts() logging.LogOpts {
	opts := logging.LogOpts{
		Verbosity:       int(c.Verbosity),
		Color:           c.Color,
		CategoryLogsDir: c.LogsDir,
		DefaultLevels:   DefaultLevels,
	}
	if c.JSONLog {
		opts.Encoding = "json"
	}
	return opts
}

// SetupRoot registers the logging flags on the root command and installs the configured logger, both as the
// zap global and on the command context, before any subcommand runs. preRun, if not nil, is called afterwards.
func SetupRoot(root *cobra.Command, commonCfg *CommonConfig, preRun func(cmd *cobra.Command, args []string) error) {
	flags := root.PersistentFlags()
	flags.VarPF(&commonCfg.Verbosity, "verbose", "v", "Enable verbose logging, repeat for more (-vv)").NoOptDefVal = "true"
	flags.BoolVar(&commonCfg.JSONLog, "json-log", false, "Enable JSON logging")
	flags.StringVar(&commonCfg.LogsDir, "logs-dir", "", "Directory to write per-category logs to")
	flags.StringVar(&commonCfg.Color, "color", "auto", "Colorize console logs (auto, always, never)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := commonCfg.LogOpts().NewLogger()
		zap.ReplaceGlobals(logger)
		cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
		if preRun != nil {
			return preRun(cmd, args)
		}
		return nil
	}

	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		zap.L().Sync() //nolint:errcheck
	}
}
