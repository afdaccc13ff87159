package deploy

import (
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/klothoplatform/cortexrag/pkg/config"
)

// New returns the Deployer for the configured backend.
func New(cfg *config.Config, awsCfg aws.Config) (Deployer, error) {
	switch cfg.Backend {
	case config.BackendCloudFormation, "":
		return NewCloudFormation(awsCfg), nil

	case config.BackendPulumi:
		// An empty passphrase is accepted by the local backend when the variable is set.
		return NewPulumi(cfg.StateDir, os.Getenv("PULUMI_CONFIG_PASSPHRASE")), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
