package deploy

import (
	"fmt"
	"strings"

	"github.com/klothoplatform/cortexrag/pkg/stack"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
)

// Outputs are the published values of a deployed stack.
type Outputs struct {
	StackName string `mapstructure:"-"`

	ApplicationId    string `mapstructure:"QBusinessApplicationId"`
	ApplicationUrl   string `mapstructure:"QBusinessApplicationUrl"`
	PluginRef        string `mapstructure:"CortexPluginId"`
	WebExperienceId  string `mapstructure:"WebExperienceId"`
	WebExperienceUrl string `mapstructure:"WebExperienceUrl"`
	BucketName       string `mapstructure:"DocumentsBucketName"`
	SecretArn        string `mapstructure:"SnowflakeOAuthSecretArn"`
	WarehouseAccount string `mapstructure:"SnowflakeAccount"`
	SetupCommand     string `mapstructure:"AutomationScript"`
}

func DecodeOutputs(stackName string, raw map[string]any) (*Outputs, error) {
	out := &Outputs{StackName: stackName}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("could not decode outputs of %s: %w", stackName, err)
	}
	return out, nil
}

// PluginID is the plugin's own id. The plugin's Ref has the form `applicationId|pluginId`.
func (o Outputs) PluginID() string {
	if i := strings.LastIndex(o.PluginRef, "|"); i >= 0 {
		return o.PluginRef[i+1:]
	}
	return o.PluginRef
}

// Require reports every output the setup run needs that is missing.
func (o Outputs) Require() error {
	var errs error
	for _, f := range []struct{ name, value string }{
		{stack.OutputApplicationId, o.ApplicationId},
		{stack.OutputPluginId, o.PluginRef},
		{stack.OutputWebExperienceUrl, o.WebExperienceUrl},
		{stack.OutputBucketName, o.BucketName},
		{stack.OutputSecretArn, o.SecretArn},
	} {
		if f.value == "" {
			errs = multierr.Append(errs, fmt.Errorf("stack %s has no %s output", o.StackName, f.name))
		}
	}
	return errs
}

// Pairs lists the outputs in display order.
func (o Outputs) Pairs() [][2]string {
	return [][2]string{
		{stack.OutputApplicationId, o.ApplicationId},
		{stack.OutputApplicationUrl, o.ApplicationUrl},
		{stack.OutputPluginId, o.PluginRef},
		{stack.OutputWebExperienceId, o.WebExperienceId},
		{stack.OutputWebExperienceUrl, o.WebExperienceUrl},
		{stack.OutputBucketName, o.BucketName},
		{stack.OutputSecretArn, o.SecretArn},
		{stack.OutputAccount, o.WarehouseAccount},
		{stack.OutputSetupCommand, o.SetupCommand},
	}
}
