package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"go.uber.org/zap"
)

type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, params *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	CreateChangeSet(ctx context.Context, params *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, params *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	DeleteChangeSet(ctx context.Context, params *cloudformation.DeleteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteChangeSetOutput, error)
}

// CloudFormation deploys the template as a native CloudFormation stack.
type CloudFormation struct {
	Client CloudFormationAPI

	// MaxWait bounds each wait for a stack or change set to settle.
	MaxWait time.Duration
	// MinDelay is the initial polling interval while waiting. Zero uses the SDK default.
	MinDelay time.Duration
}

func NewCloudFormation(cfg aws.Config) *CloudFormation {
	return &CloudFormation{
		Client:  cloudformation.NewFromConfig(cfg),
		MaxWait: 45 * time.Minute,
	}
}

var capabilities = []types.Capability{types.CapabilityCapabilityIam, types.CapabilityCapabilityNamedIam}

func isValidationError(err error, contains string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), contains)
}

func isNotFound(err error) bool {
	return isValidationError(err, "does not exist")
}

func isNoUpdates(err error) bool {
	return isValidationError(err, "No updates are to be performed")
}

func cfnTags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

// describe returns the stack, or ErrStackNotFound.
func (c *CloudFormation) describe(ctx context.Context, name string) (*types.Stack, error) {
	out, err := c.Client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(name)})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, ErrStackNotFound)
		}
		return nil, fmt.Errorf("could not describe stack %s: %w", name, err)
	}
	if len(out.Stacks) == 0 || out.Stacks[0].StackStatus == types.StackStatusDeleteComplete {
		return nil, fmt.Errorf("%s: %w", name, ErrStackNotFound)
	}
	return &out.Stacks[0], nil
}

func (c *CloudFormation) maxWait() time.Duration {
	if c.MaxWait <= 0 {
		return 45 * time.Minute
	}
	return c.MaxWait
}

func (c *CloudFormation) Deploy(ctx context.Context, req Request) (*Outputs, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logging.GetLogger(ctx).Named("deploy.cfn").With(zap.String("stack", req.StackName))

	existing, err := c.describe(ctx, req.StackName)
	if err != nil && !errors.Is(err, ErrStackNotFound) {
		return nil, err
	}
	// A stack whose creation rolled back, or that only holds a change set from a preview, cannot be
	// updated, only replaced.
	if existing != nil && (existing.StackStatus == types.StackStatusRollbackComplete ||
		existing.StackStatus == types.StackStatusReviewInProgress) {
		log.Warn("deleting stack before recreating it", zap.String("status", string(existing.StackStatus)))
		if err := c.deleteAndWait(ctx, req.StackName); err != nil {
			return nil, err
		}
		existing = nil
	}

	input := &cloudformation.DescribeStacksInput{StackName: aws.String(req.StackName)}
	token := uuid.NewString()
	if existing == nil {
		log.Info("creating stack")
		_, err := c.Client.CreateStack(ctx, &cloudformation.CreateStackInput{
			StackName:          aws.String(req.StackName),
			TemplateBody:       aws.String(string(req.Template)),
			Capabilities:       capabilities,
			ClientRequestToken: aws.String(token),
			Tags:               cfnTags(req.Tags),
			OnFailure:          types.OnFailureRollback,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create stack %s: %w", req.StackName, err)
		}
		waiter := cloudformation.NewStackCreateCompleteWaiter(c.Client, func(o *cloudformation.StackCreateCompleteWaiterOptions) {
			if c.MinDelay > 0 {
				o.MinDelay = c.MinDelay
			}
		})
		if err := waiter.Wait(ctx, input, c.maxWait()); err != nil {
			return nil, fmt.Errorf("stack %s did not reach CREATE_COMPLETE: %w", req.StackName, err)
		}
		log.Info("stack created")
	} else {
		log.Info("updating stack", zap.String("status", string(existing.StackStatus)))
		_, err := c.Client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
			StackName:          aws.String(req.StackName),
			TemplateBody:       aws.String(string(req.Template)),
			Capabilities:       capabilities,
			ClientRequestToken: aws.String(token),
			Tags:               cfnTags(req.Tags),
		})
		switch {
		case isNoUpdates(err):
			log.Info("stack is up to date")
		case err != nil:
			return nil, fmt.Errorf("could not update stack %s: %w", req.StackName, err)
		default:
			waiter := cloudformation.NewStackUpdateCompleteWaiter(c.Client, func(o *cloudformation.StackUpdateCompleteWaiterOptions) {
				if c.MinDelay > 0 {
					o.MinDelay = c.MinDelay
				}
			})
			if err := waiter.Wait(ctx, input, c.maxWait()); err != nil {
				return nil, fmt.Errorf("stack %s did not reach UPDATE_COMPLETE: %w", req.StackName, err)
			}
			log.Info("stack updated")
		}
	}
	return c.Outputs(ctx, req.StackName)
}

func (c *CloudFormation) Outputs(ctx context.Context, stackName string) (*Outputs, error) {
	st, err := c.describe(ctx, stackName)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(st.Outputs))
	for _, o := range st.Outputs {
		raw[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return DecodeOutputs(stackName, raw)
}

func (c *CloudFormation) Preview(ctx context.Context, req Request) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logging.GetLogger(ctx).Named("deploy.cfn").With(zap.String("stack", req.StackName))

	existing, err := c.describe(ctx, req.StackName)
	if err != nil && !errors.Is(err, ErrStackNotFound) {
		return nil, err
	}
	changeSetType := types.ChangeSetTypeUpdate
	if existing == nil {
		changeSetType = types.ChangeSetTypeCreate
	}
	name := "cortexrag-preview-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	log.Debug("creating change set", zap.String("change_set", name), zap.String("type", string(changeSetType)))
	_, err = c.Client.CreateChangeSet(ctx, &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(req.StackName),
		ChangeSetName: aws.String(name),
		ChangeSetType: changeSetType,
		TemplateBody:  aws.String(string(req.Template)),
		Capabilities:  capabilities,
		Tags:          cfnTags(req.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create change set for %s: %w", req.StackName, err)
	}
	defer c.cleanupChangeSet(ctx, log, req.StackName, name, changeSetType == types.ChangeSetTypeCreate)

	describe := &cloudformation.DescribeChangeSetInput{StackName: aws.String(req.StackName), ChangeSetName: aws.String(name)}
	waiter := cloudformation.NewChangeSetCreateCompleteWaiter(c.Client, func(o *cloudformation.ChangeSetCreateCompleteWaiterOptions) {
		if c.MinDelay > 0 {
			o.MinDelay = c.MinDelay
		}
	})
	waitErr := waiter.Wait(ctx, describe, c.maxWait())

	preview := &Preview{StackName: req.StackName}
	var next *string
	for {
		describe.NextToken = next
		out, err := c.Client.DescribeChangeSet(ctx, describe)
		if err != nil {
			return nil, fmt.Errorf("could not describe change set %s: %w", name, err)
		}
		if out.Status == types.ChangeSetStatusFailed {
			reason := aws.ToString(out.StatusReason)
			if strings.Contains(reason, "didn't contain changes") || strings.Contains(reason, "No updates are to be performed") {
				log.Info("no changes")
				break
			}
			return nil, fmt.Errorf("change set for %s failed: %s", req.StackName, reason)
		}
		if waitErr != nil {
			return nil, fmt.Errorf("change set for %s did not complete: %w", req.StackName, waitErr)
		}
		for _, ch := range out.Changes {
			rc := ch.ResourceChange
			if rc == nil {
				continue
			}
			preview.Changes = append(preview.Changes, Change{
				Action:       strings.ToLower(string(rc.Action)),
				LogicalId:    aws.ToString(rc.LogicalResourceId),
				ResourceType: aws.ToString(rc.ResourceType),
				Replacement:  string(rc.Replacement),
			})
		}
		if next = out.NextToken; next == nil {
			break
		}
	}
	sortChanges(preview.Changes)
	preview.Summary = summarize(preview.Changes)
	return preview, nil
}

// cleanupChangeSet removes the preview change set. A CREATE change set also leaves behind an empty stack
// in REVIEW_IN_PROGRESS, which is deleted as well.
func (c *CloudFormation) cleanupChangeSet(ctx context.Context, log *zap.Logger, stackName, name string, created bool) {
	_, err := c.Client.DeleteChangeSet(ctx, &cloudformation.DeleteChangeSetInput{
		StackName:     aws.String(stackName),
		ChangeSetName: aws.String(name),
	})
	if err != nil {
		log.Warn("could not delete preview change set", zap.String("change_set", name), zap.Error(err))
	}
	if created {
		if _, err := c.Client.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackName)}); err != nil {
			log.Warn("could not delete review stack", zap.Error(err))
		}
	}
}

func (c *CloudFormation) Destroy(ctx context.Context, req Request) error {
	log := logging.GetLogger(ctx).Named("deploy.cfn").With(zap.String("stack", req.StackName))
	if _, err := c.describe(ctx, req.StackName); err != nil {
		if errors.Is(err, ErrStackNotFound) {
			log.Info("stack does not exist")
			return nil
		}
		return err
	}
	log.Info("deleting stack")
	if err := c.deleteAndWait(ctx, req.StackName); err != nil {
		return err
	}
	log.Info("stack deleted")
	return nil
}

func (c *CloudFormation) deleteAndWait(ctx context.Context, stackName string) error {
	_, err := c.Client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName:          aws.String(stackName),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return fmt.Errorf("could not delete stack %s: %w", stackName, err)
	}
	waiter := cloudformation.NewStackDeleteCompleteWaiter(c.Client, func(o *cloudformation.StackDeleteCompleteWaiterOptions) {
		if c.MinDelay > 0 {
			o.MinDelay = c.MinDelay
		}
	})
	if err := waiter.Wait(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)}, c.maxWait()); err != nil {
		return fmt.Errorf("stack %s did not reach DELETE_COMPLETE: %w", stackName, err)
	}
	return nil
}
