package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{
		"SNOWFLAKE_ACCOUNT", "SNOWFLAKE_USER", "SNOWFLAKE_PASSWORD", "SNOWFLAKE_ROLE",
		"IDENTITY_CENTER_INSTANCE_ARN", "REGION", "AWS_REGION", "CDK_DEFAULT_REGION",
		"STACK_NAME", "BACKEND", "STATE_DIR", "DOCUMENTS", "OPEN_BROWSER",
	} {
		t.Setenv(name, "")
	}
}

func load(t *testing.T, args []string, configFile string) (*Config, error) {
	t.Helper()
	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(FlagName(KeyRegion), "", "")
	flags.String(FlagName(KeyBackend), "", "")
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	require.NoError(t, BindFlags(v, flags))
	return Load(v, configFile)
}

func TestRegionResolution(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "default", want: "us-east-1"},
		{name: "cdk default region", env: map[string]string{"CDK_DEFAULT_REGION": "eu-west-1"}, want: "eu-west-1"},
		{
			name: "aws region beats cdk",
			env:  map[string]string{"CDK_DEFAULT_REGION": "eu-west-1", "AWS_REGION": "us-west-2"},
			want: "us-west-2",
		},
		{
			name: "flag beats env",
			env:  map[string]string{"AWS_REGION": "us-west-2"},
			args: []string{"--region", "ap-south-1"},
			want: "ap-south-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := load(t, tt.args, "")
			if !assert.NoError(err) {
				return
			}
			assert.Equal(tt.want, cfg.Region)
			assert.Equal(StackName(tt.want), cfg.StackName)
		})
	}
}

func TestStackName(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("SnowflakeQBusinessRagStack-useast1", StackName("us-east-1"))
	assert.Equal("SnowflakeQBusinessRagStack-apsoutheast2", StackName("ap-southeast-2"))
	assert.Equal(LegacyStackName, StackName(""))

	cfg := &Config{StackName: StackName("us-west-2"), DefaultStackName: true}
	assert.Equal([]string{"SnowflakeQBusinessRagStack-uswest2", LegacyStackName}, cfg.StackNames())
	cfg.StackName = LegacyStackName
	assert.Equal([]string{LegacyStackName}, cfg.StackNames())
}

func TestStackNameFallback(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "derived name falls back to legacy",
			args: []string{"--region", "us-west-2"},
			want: []string{"SnowflakeQBusinessRagStack-uswest2", LegacyStackName},
		},
		{
			name: "configured name is used alone",
			args: []string{"--region", "us-west-2", "--stack-name", "MyTeamRag"},
			want: []string{"MyTeamRag"},
		},
		{
			name: "configured legacy name",
			args: []string{"--stack-name", LegacyStackName},
			want: []string{LegacyStackName},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := load(t, tt.args, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.StackNames())
		})
	}

	assert.Equal(t, []string{"MyTeamRag"}, (&Config{StackName: "MyTeamRag", Region: "us-west-2"}).StackNames())
}

func TestPrecedence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "cortexrag.yaml")
	require.NoError(os.WriteFile(file, []byte(`
snowflakeAccount: FILE-ACCOUNT
snowflakeUser: file_user
snowflakePassword: file_password
identityCenterInstanceArn: arn:aws:sso:::instance/ssoins-file
backend: pulumi
documents:
  - https://example.com/a.pdf
`), 0644))

	t.Setenv("SNOWFLAKE_USER", "env_user")
	t.Setenv("SNOWFLAKE_PASSWORD", "env_password")

	cfg, err := load(t, []string{"--snowflake-password", "flag_password"}, file)
	require.NoError(err)

	assert.Equal("FILE-ACCOUNT", cfg.SnowflakeAccount)
	assert.Equal("env_user", cfg.SnowflakeUser)
	assert.Equal("flag_password", cfg.SnowflakePassword)
	assert.Equal(DefaultRole, cfg.SnowflakeRole)
	assert.Equal("arn:aws:sso:::instance/ssoins-file", cfg.IdentityCenterInstanceArn)
	assert.Equal(BackendPulumi, cfg.Backend)
	assert.Equal([]string{"https://example.com/a.pdf"}, cfg.Documents)
	assert.Equal(file, cfg.ConfigFile)
}

func TestDocumentsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCUMENTS", "https://example.com/a.pdf, https://example.com/b.pdf")

	cfg, err := load(t, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a.pdf", "https://example.com/b.pdf"}, cfg.Documents)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		clearEnv(t)
		_, err := load(t, nil, filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("unknown backend", func(t *testing.T) {
		clearEnv(t)
		_, err := load(t, []string{"--backend", "terraform"}, "")
		assert.ErrorContains(t, err, `unknown backend "terraform"`)
	})
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		keys        []string
		wantMissing []string
	}{
		{
			name:        "all missing are reported",
			cfg:         Config{SnowflakeAccount: "ORG-ACCT"},
			keys:        SetupKeys,
			wantMissing: []string{"snowflakeUser", "snowflakePassword"},
		},
		{
			name:        "whitespace is missing",
			cfg:         Config{SnowflakeAccount: "ORG-ACCT", SnowflakeUser: "u", IdentityCenterInstanceArn: "  "},
			keys:        InfraKeys,
			wantMissing: []string{"identityCenterInstanceArn"},
		},
		{
			name: "satisfied",
			cfg:  Config{SnowflakeAccount: "ORG-ACCT", SnowflakeUser: "u", SnowflakePassword: "p"},
			keys: SetupKeys,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			err := tt.cfg.Require(tt.keys...)
			if len(tt.wantMissing) == 0 {
				assert.NoError(err)
				return
			}
			errs := multierr.Errors(err)
			if assert.Len(errs, len(tt.wantMissing)) {
				for i, key := range tt.wantMissing {
					assert.Contains(errs[i].Error(), key)
					assert.Contains(errs[i].Error(), EnvName(key))
				}
			}
		})
	}
}
