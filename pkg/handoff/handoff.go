// Package handoff passes the warehouse's OAuth client to the chat application: the credentials go into the
// stack's secret, and the plugin is cycled so it picks them up.
package handoff

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/google/uuid"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

//go:embed credentials.schema.json
var credentialsSchema string

var schemaLoader = gojsonschema.NewStringLoader(credentialsSchema)

// Credentials is the document the plugin's OAuth configuration reads from the secret.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

func (c Credentials) Sanitize() map[string]any {
	return map[string]any{
		"client_id":     c.ClientID != "",
		"client_secret": c.ClientSecret != "",
		"redirect_uri":  c.RedirectURI,
	}
}

// Validate checks the credentials against the secret's JSON schema and returns every violation.
func (c Credentials) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("could not validate credentials: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var errs error
	for _, e := range result.Errors() {
		// e.Value() would echo the secret back, so only the field and the rule are reported.
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("invalid credentials: %w", errs)
}

type SecretsAPI interface {
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

type ApplicationAPI interface {
	UpdateChatControlsConfiguration(ctx context.Context, params *qbusiness.UpdateChatControlsConfigurationInput, optFns ...func(*qbusiness.Options)) (*qbusiness.UpdateChatControlsConfigurationOutput, error)
	UpdatePlugin(ctx context.Context, params *qbusiness.UpdatePluginInput, optFns ...func(*qbusiness.Options)) (*qbusiness.UpdatePluginOutput, error)
}

type Handoff struct {
	Secrets     SecretsAPI
	Application ApplicationAPI
}

func New(cfg aws.Config) *Handoff {
	return &Handoff{
		Secrets:     secretsmanager.NewFromConfig(cfg),
		Application: qbusiness.NewFromConfig(cfg),
	}
}

// WriteSecret stores the credentials as the secret's current value.
func (h *Handoff) WriteSecret(ctx context.Context, secretArn string, creds Credentials) error {
	ctx, log := logging.Named(ctx, "handoff")
	if secretArn == "" {
		return errors.New("secret arn is required")
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	_, err = h.Secrets.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretArn),
		SecretString:       aws.String(string(doc)),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return fmt.Errorf("could not update secret %s: %w", secretArn, err)
	}
	log.Info("updated oauth secret",
		zap.String("secret", secretArn),
		logging.Sanitized("credentials", creds),
		logging.Secret("client_secret", creds.ClientSecret),
	)
	return nil
}

// EnableGeneralKnowledge lets the chat answer from the model's own knowledge when the documents do not cover
// a question.
func (h *Handoff) EnableGeneralKnowledge(ctx context.Context, applicationId string) error {
	ctx, log := logging.Named(ctx, "handoff")
	if applicationId == "" {
		return errors.New("application id is required")
	}
	_, err := h.Application.UpdateChatControlsConfiguration(ctx, &qbusiness.UpdateChatControlsConfigurationInput{
		ApplicationId: aws.String(applicationId),
		ResponseScope: types.ResponseScopeExtendedKnowledgeEnabled,
		CreatorModeConfiguration: &types.CreatorModeConfiguration{
			CreatorModeControl: types.CreatorModeControlEnabled,
		},
		ClientToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return fmt.Errorf("could not enable general knowledge for %s: %w", applicationId, err)
	}
	log.Info("general knowledge enabled", zap.String("application", applicationId))
	return nil
}

// RefreshPlugin disables then re-enables the plugin so it drops any cached OAuth client. Enabling is only
// attempted once disabling has succeeded.
func (h *Handoff) RefreshPlugin(ctx context.Context, applicationId, pluginId string) error {
	ctx, log := logging.Named(ctx, "handoff")
	log = log.With(zap.String("application", applicationId), zap.String("plugin", pluginId))
	if applicationId == "" || pluginId == "" {
		return errors.New("application id and plugin id are required")
	}
	for _, state := range []types.PluginState{types.PluginStateDisabled, types.PluginStateEnabled} {
		_, err := h.Application.UpdatePlugin(ctx, &qbusiness.UpdatePluginInput{
			ApplicationId: aws.String(applicationId),
			PluginId:      aws.String(pluginId),
			State:         state,
		})
		if err != nil {
			return fmt.Errorf("could not set plugin %s to %s: %w", pluginId, state, err)
		}
		log.Info("plugin state updated", zap.String("state", string(state)))
	}
	return nil
}
