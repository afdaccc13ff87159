// Package stack declares the RAG resource graph: a document bucket, the OAuth secret the setup run fills in,
// the service roles, and the Q Business application with its Cortex Search plugin and web experience.
package stack

import (
	"encoding/json"
	"fmt"

	"github.com/klothoplatform/cortexrag/pkg/construct"
	"github.com/klothoplatform/cortexrag/pkg/openapi"
)

var (
	DocumentsBucket   = construct.ResourceId{Type: "AWS::S3::Bucket", Name: "DocumentsBucket"}
	OAuthSecret       = construct.ResourceId{Type: "AWS::SecretsManager::Secret", Name: "SnowflakeOAuthSecret"}
	ApplicationRole   = construct.ResourceId{Type: "AWS::IAM::Role", Name: "QBusinessRole"}
	PluginRole        = construct.ResourceId{Type: "AWS::IAM::Role", Name: "QBusinessPluginRole"}
	Application       = construct.ResourceId{Type: "AWS::QBusiness::Application", Name: "QBusinessApplication"}
	WebExperienceRole = construct.ResourceId{Type: "AWS::IAM::Role", Name: "QBusinessWebExperienceRole"}
	Plugin            = construct.ResourceId{Type: "AWS::QBusiness::Plugin", Name: "CortexPlugin"}
	WebExperience     = construct.ResourceId{Type: "AWS::QBusiness::WebExperience", Name: "QBusinessWebExperience"}
)

// Output names published by the stack.
const (
	OutputSuccess          = "SUCCESS"
	OutputApplicationId    = "QBusinessApplicationId"
	OutputApplicationUrl   = "QBusinessApplicationUrl"
	OutputPluginId         = "CortexPluginId"
	OutputWebExperienceId  = "WebExperienceId"
	OutputWebExperienceUrl = "WebExperienceUrl"
	OutputBucketName       = "DocumentsBucketName"
	OutputSecretArn        = "SnowflakeOAuthSecretArn"
	OutputAccount          = "SnowflakeAccount"
	OutputSetupCommand     = "AutomationScript"
)

// PlaceholderClientId marks a secret that the setup run has not written yet.
const PlaceholderClientId = "placeholder-will-be-updated-by-script"

type Stack struct {
	Props   Props
	Graph   *construct.Graph
	Outputs []construct.Output

	// APISchema is the OpenAPI document embedded in the plugin.
	APISchema string
}

// creationChain is the explicit order resources are created in, on top of the edges implied by references.
var creationChain = [][2]construct.ResourceId{
	{DocumentsBucket, OAuthSecret},
	{OAuthSecret, ApplicationRole},
	{OAuthSecret, PluginRole},
	{ApplicationRole, Application},
	{PluginRole, Application},
	{Application, Plugin},
	{Plugin, WebExperience},
}

func Build(props Props) (*Stack, error) {
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stack props: %w", err)
	}
	props.Names = props.Names.withDefaults()
	names := props.Names

	schema, err := openapi.Defaults(props.WarehouseAccount).Render()
	if err != nil {
		return nil, err
	}

	secretTemplate, err := json.Marshal(map[string]string{
		"client_id":    PlaceholderClientId,
		"redirect_uri": "https://placeholder.qbusiness.amazonaws.com/oauth/callback",
	})
	if err != nil {
		return nil, err
	}

	applicationArn := construct.Sub("arn:aws:qbusiness:${AWS::Region}:${AWS::AccountId}:application/${" + Application.Name + "}")

	bucket := construct.NewResource(DocumentsBucket.Type, DocumentsBucket.Name, construct.Properties{
		"BucketName": construct.Sub(names.BucketPrefix + "-${AWS::Region}-${AWS::AccountId}"),
	})
	bucket.DeletionPolicy = construct.DeletionPolicyDelete

	resources := []*construct.Resource{
		bucket,
		construct.NewResource(OAuthSecret.Type, OAuthSecret.Name, construct.Properties{
			"Description": "Snowflake OAuth credentials for Q Business plugin",
			"GenerateSecretString": map[string]any{
				"SecretStringTemplate": string(secretTemplate),
				"GenerateStringKey":    "client_secret",
				"ExcludeCharacters":    `"\/`,
			},
		}),
		construct.NewResource(ApplicationRole.Type, ApplicationRole.Name, construct.Properties{
			"AssumeRolePolicyDocument": trustPolicy(serviceTrust("qbusiness.amazonaws.com", "sts:AssumeRole")),
			"Policies": []any{
				inlinePolicy("QBusinessPolicy", statement("", []string{
					"qbusiness:*",
					"iam:PassRole",
					"logs:CreateLogGroup",
					"logs:CreateLogStream",
					"logs:PutLogEvents",
				}, "*")),
			},
		}),
		construct.NewResource(PluginRole.Type, PluginRole.Name, construct.Properties{
			"AssumeRolePolicyDocument": trustPolicy(serviceTrust("qbusiness.amazonaws.com", "sts:AssumeRole")),
			"Policies": []any{
				inlinePolicy("AllowQBusinessToGetSecretValue", statement("AllowQBusinessToGetSecretValue",
					[]string{"secretsmanager:GetSecretValue"}, construct.RefTo(OAuthSecret))),
			},
		}),
		construct.NewResource(Application.Type, Application.Name, construct.Properties{
			"DisplayName":               names.Application,
			"RoleArn":                   construct.AttOf(ApplicationRole, "Arn"),
			"IdentityCenterInstanceArn": props.IdentityCenterInstanceArn,
			"Description":               "RAG application connecting Amazon Q Business to Snowflake Cortex Search",
		}),
		construct.NewResource(WebExperienceRole.Type, WebExperienceRole.Name, construct.Properties{
			"AssumeRolePolicyDocument": trustPolicy(map[string]any{
				"Sid":       "QBusinessTrustPolicy",
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": "application.qbusiness.amazonaws.com"},
				"Action":    []any{"sts:AssumeRole", "sts:SetContext"},
				"Condition": map[string]any{
					"StringEquals": map[string]any{"aws:SourceAccount": construct.Ref{Name: "AWS::AccountId"}},
					"ArnEquals":    map[string]any{"aws:SourceArn": applicationArn},
				},
			}),
			"Policies": []any{
				inlinePolicy("QBusinessWebExperiencePolicy",
					statement("QBusinessConversationPermissions", conversationActions, applicationArn),
					statement("QBusinessPluginDiscoveryPermissions", []string{
						"qbusiness:ListPluginTypeMetadata",
						"qbusiness:ListPluginTypeActions",
					}, "*"),
					statement("QBusinessRetrieverPermission", []string{"qbusiness:GetRetriever"},
						applicationArn,
						construct.Sub("arn:aws:qbusiness:${AWS::Region}:${AWS::AccountId}:application/${"+Application.Name+"}/retriever/*"),
					),
					withCondition(
						statement("QBusinessAutoSubscriptionPermission", []string{"user-subscriptions:CreateClaim"}, "*"),
						map[string]any{
							"Bool":         map[string]any{"user-subscriptions:CreateForSelf": "true"},
							"StringEquals": map[string]any{"aws:CalledViaLast": "qbusiness.amazonaws.com"},
						},
					),
				),
			},
		}),
		construct.NewResource(Plugin.Type, Plugin.Name, construct.Properties{
			"ApplicationId": construct.RefTo(Application),
			"DisplayName":   names.Plugin,
			"Type":          "CUSTOM",
			"AuthConfiguration": map[string]any{
				"OAuth2ClientCredentialConfiguration": map[string]any{
					"RoleArn":   construct.AttOf(PluginRole, "Arn"),
					"SecretArn": construct.RefTo(OAuthSecret),
				},
			},
			"CustomPluginConfiguration": map[string]any{
				"Description":   openapi.DefaultDescription,
				"ApiSchemaType": "OPEN_API_V3",
				"ApiSchema":     map[string]any{"Payload": schema},
			},
		}),
		construct.NewResource(WebExperience.Type, WebExperience.Name, construct.Properties{
			"ApplicationId":            construct.RefTo(Application),
			"RoleArn":                  construct.AttOf(WebExperienceRole, "Arn"),
			"Title":                    names.WebTitle,
			"Subtitle":                 names.WebSubtitle,
			"WelcomeMessage":           names.WelcomeMessage,
			"SamplePromptsControlMode": "ENABLED",
		}),
	}

	g := construct.NewGraph()
	for _, r := range resources {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	for _, e := range creationChain {
		if err := g.AddDependency(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	if err := g.AddImplicitDependencies(); err != nil {
		return nil, err
	}

	return &Stack{
		Props:     props,
		Graph:     g,
		Outputs:   outputs(props),
		APISchema: schema,
	}, nil
}

func outputs(props Props) []construct.Output {
	return []construct.Output{
		{Name: OutputSuccess, Description: "Your automated Snowflake + Q Business infrastructure is ready!", Value: "AUTOMATED DEPLOYMENT SUCCESSFUL!"},
		{Name: OutputApplicationId, Description: "Amazon Q Business Application ID", Value: construct.RefTo(Application)},
		{
			Name:        OutputApplicationUrl,
			Description: "Amazon Q Business Application Console URL",
			Value:       construct.Sub("https://console.aws.amazon.com/q/business/applications/${" + Application.Name + "}"),
		},
		{Name: OutputPluginId, Description: "Q Business Cortex Plugin ID", Value: construct.RefTo(Plugin)},
		{Name: OutputWebExperienceId, Description: "Q Business Web Experience ID", Value: construct.RefTo(WebExperience)},
		{Name: OutputWebExperienceUrl, Description: "Q Business Web Experience URL", Value: construct.AttOf(WebExperience, "DefaultEndpoint")},
		{Name: OutputBucketName, Description: "S3 bucket for PDF documents", Value: construct.RefTo(DocumentsBucket)},
		{Name: OutputSecretArn, Description: "Snowflake OAuth secret ARN (will be updated by the setup command)", Value: construct.RefTo(OAuthSecret)},
		{Name: OutputAccount, Description: "Your Snowflake account identifier", Value: props.WarehouseAccount},
		{Name: OutputSetupCommand, Description: "Run this command to complete the Snowflake setup", Value: construct.Sub(props.Names.SetupCommand + " --stack-name ${AWS::StackName}")},
	}
}

// Template renders the stack as a CloudFormation template.
func (s *Stack) Template() ([]byte, error) {
	body, err := s.Graph.Template(s.Props.Names.TemplateSummary, s.Outputs)
	if err != nil {
		return nil, fmt.Errorf("could not render template: %w", err)
	}
	return body, nil
}

var conversationActions = []string{
	"qbusiness:Chat",
	"qbusiness:ChatSync",
	"qbusiness:ListMessages",
	"qbusiness:ListConversations",
	"qbusiness:DeleteConversation",
	"qbusiness:PutFeedback",
	"qbusiness:GetWebExperience",
	"qbusiness:GetApplication",
	"qbusiness:ListPlugins",
	"qbusiness:GetChatControlsConfiguration",
	"qbusiness:ListRetrievers",
	"qbusiness:ListPluginActions",
	"qbusiness:ListAttachments",
	"qbusiness:DeleteAttachment",
	"qbusiness:GetMedia",
	"qbusiness:GetDocumentContent",
	"qbusiness:CreateConversation",
	"qbusiness:GetConversation",
	"qbusiness:UpdateConversation",
}
