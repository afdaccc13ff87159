// Package config resolves the settings shared by every command. Values come from flags, then environment
// variables, then an optional YAML config file, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	KeySnowflakeAccount          = "snowflakeAccount"
	KeySnowflakeUser             = "snowflakeUser"
	KeySnowflakePassword         = "snowflakePassword"
	KeySnowflakeRole             = "snowflakeRole"
	KeyIdentityCenterInstanceArn = "identityCenterInstanceArn"
	KeyRegion                    = "region"
	KeyStackName                 = "stackName"
	KeyBackend                   = "backend"
	KeyStateDir                  = "stateDir"
	KeyDocuments                 = "documents"
	KeyOpenBrowser               = "openBrowser"
)

const (
	BackendCloudFormation = "cloudformation"
	BackendPulumi         = "pulumi"

	DefaultRegion = "us-east-1"
	DefaultRole   = "ACCOUNTADMIN"

	// LegacyStackName is the stack name used before names were made region specific. Output lookups fall back to it.
	LegacyStackName = "SnowflakeQBusinessRagStack"
)

type Config struct {
	SnowflakeAccount          string   `mapstructure:"snowflakeAccount"`
	SnowflakeUser             string   `mapstructure:"snowflakeUser"`
	SnowflakePassword         string   `mapstructure:"snowflakePassword"`
	SnowflakeRole             string   `mapstructure:"snowflakeRole"`
	IdentityCenterInstanceArn string   `mapstructure:"identityCenterInstanceArn"`
	Region                    string   `mapstructure:"region"`
	StackName                 string   `mapstructure:"stackName"`
	Backend                   string   `mapstructure:"backend"`
	StateDir                  string   `mapstructure:"stateDir"`
	Documents                 []string `mapstructure:"documents"`
	OpenBrowser               bool     `mapstructure:"openBrowser"`

	// ConfigFile is the file the values were read from, if any.
	ConfigFile string `mapstructure:"-"`
	// DefaultStackName is set when StackName was derived from the region rather than configured.
	DefaultStackName bool `mapstructure:"-"`
}

var (
	// InfraKeys are required by commands that render or deploy the stack.
	InfraKeys = []string{KeySnowflakeAccount, KeySnowflakeUser, KeyIdentityCenterInstanceArn}
	// SetupKeys are required by the setup run against the warehouse.
	SetupKeys = []string{KeySnowflakeAccount, KeySnowflakeUser, KeySnowflakePassword}
)

type flagSpec struct {
	key   string
	usage string
}

var stringFlags = []flagSpec{
	{KeySnowflakeAccount, "Snowflake account identifier (e.g. ORG-ACCOUNT)"},
	{KeySnowflakeUser, "Snowflake user name"},
	{KeySnowflakePassword, "Snowflake password"},
	{KeySnowflakeRole, "Snowflake role used for setup"},
	{KeyIdentityCenterInstanceArn, "IAM Identity Center instance ARN for the Q Business application"},
	{KeyStackName, "Stack name (defaults to a region specific name)"},
	{KeyStateDir, "Directory for local state (pulumi backend, staged documents)"},
}

// FlagName is the command line flag for a config key, e.g. snowflakeAccount -> snowflake-account.
func FlagName(key string) string {
	return strcase.ToKebab(key)
}

// EnvName is the environment variable for a config key, e.g. snowflakeAccount -> SNOWFLAKE_ACCOUNT.
func EnvName(key string) string {
	return strcase.ToScreamingSnake(key)
}

// RegisterFlags adds the per-key flags that only some commands accept.
func RegisterFlags(flags *pflag.FlagSet) {
	for _, f := range stringFlags {
		flags.String(FlagName(f.key), "", f.usage)
	}
	flags.StringSlice(FlagName(KeyDocuments), nil, "Document URLs to load (defaults to the sample pump manuals)")
	flags.Bool(FlagName(KeyOpenBrowser), false, "Open the web experience when setup completes")
}

// New creates a viper instance with every key bound to its environment variable(s) and defaults applied.
func New() *viper.Viper {
	v := viper.New()
	for _, key := range []string{
		KeySnowflakeAccount, KeySnowflakeUser, KeySnowflakePassword, KeySnowflakeRole,
		KeyIdentityCenterInstanceArn, KeyStackName, KeyBackend, KeyStateDir, KeyDocuments, KeyOpenBrowser,
	} {
		_ = v.BindEnv(key, EnvName(key))
	}
	_ = v.BindEnv(KeyRegion, EnvName(KeyRegion), "AWS_REGION", "CDK_DEFAULT_REGION")

	v.SetDefault(KeySnowflakeRole, DefaultRole)
	v.SetDefault(KeyRegion, DefaultRegion)
	v.SetDefault(KeyBackend, BackendCloudFormation)
	return v
}

// BindFlags binds every flag in the set whose name matches a config key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strcase.ToLowerCamel(f.Name)
		if !isKey(key) {
			return
		}
		errs = multierr.Append(errs, v.BindPFlag(key, f))
	})
	return errs
}

func isKey(key string) bool {
	switch key {
	case KeySnowflakeAccount, KeySnowflakeUser, KeySnowflakePassword, KeySnowflakeRole,
		KeyIdentityCenterInstanceArn, KeyRegion, KeyStackName, KeyBackend, KeyStateDir,
		KeyDocuments, KeyOpenBrowser:
		return true
	}
	return false
}

// Load reads the config file (if given, or if `cortexrag.yaml` exists in the working directory) and resolves
// the final configuration. An explicitly named file that is missing is an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cortexrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if cfg.StackName == "" {
		cfg.StackName = StackName(cfg.Region)
		cfg.DefaultStackName = true
	}
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine state directory: %w", err)
		}
		cfg.StateDir = filepath.Join(home, ".cortexrag")
	}
	cfg.Documents = splitList(cfg.Documents)

	switch cfg.Backend {
	case BackendCloudFormation, BackendPulumi:
	default:
		return nil, fmt.Errorf("unknown backend %q (expected %s or %s)", cfg.Backend, BackendCloudFormation, BackendPulumi)
	}
	return &cfg, nil
}

// splitList handles comma separated values coming from a single environment variable.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// StackName is the region specific stack name, e.g. SnowflakeQBusinessRagStack-uswest2.
func StackName(region string) string {
	if region == "" {
		return LegacyStackName
	}
	return LegacyStackName + "-" + strings.ReplaceAll(region, "-", "")
}

// StackNames lists the names to try, in order, when looking up an existing stack. Only a derived name falls
// back to the legacy name. A configured name is used as is.
func (c *Config) StackNames() []string {
	if !c.DefaultStackName || c.StackName == LegacyStackName {
		return []string{c.StackName}
	}
	return []string{c.StackName, LegacyStackName}
}

func (c *Config) value(key string) string {
	switch key {
	case KeySnowflakeAccount:
		return c.SnowflakeAccount
	case KeySnowflakeUser:
		return c.SnowflakeUser
	case KeySnowflakePassword:
		return c.SnowflakePassword
	case KeySnowflakeRole:
		return c.SnowflakeRole
	case KeyIdentityCenterInstanceArn:
		return c.IdentityCenterInstanceArn
	case KeyRegion:
		return c.Region
	case KeyStackName:
		return c.StackName
	case KeyBackend:
		return c.Backend
	case KeyStateDir:
		return c.StateDir
	}
	return ""
}

// Require reports every key in keys that has no value.
func (c *Config) Require(keys ...string) error {
	var errs error
	for _, key := range keys {
		if strings.TrimSpace(c.value(key)) == "" {
			errs = multierr.Append(errs, fmt.Errorf("missing %s (flag --%s or env %s)", key, FlagName(key), EnvName(key)))
		}
	}
	return errs
}
