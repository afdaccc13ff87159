// Package deploy creates, updates, previews and deletes the RAG stack. Two backends are provided: CloudFormation
// directly through the AWS SDK, and Pulumi's automation API wrapping the same template.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/klothoplatform/cortexrag/pkg/logging"
	"go.uber.org/zap"
)

var ErrStackNotFound = errors.New("stack not found")

type (
	Request struct {
		StackName string
		Region    string
		Template  []byte
		Tags      map[string]string
	}

	Change struct {
		Action       string
		LogicalId    string
		ResourceType string
		Replacement  string
	}

	Preview struct {
		StackName string
		Changes   []Change
		// Summary counts changes by action, e.g. "create": 8.
		Summary map[string]int
	}

	Deployer interface {
		Deploy(ctx context.Context, req Request) (*Outputs, error)
		Preview(ctx context.Context, req Request) (*Preview, error)
		Outputs(ctx context.Context, stackName string) (*Outputs, error)
		Destroy(ctx context.Context, req Request) error
	}

	// BucketEmptier deletes every object in a bucket.
	BucketEmptier interface {
		Empty(ctx context.Context, bucket string) error
	}
)

func (r Request) Validate() error {
	switch {
	case r.StackName == "":
		return errors.New("stack name is required")
	case r.Region == "":
		return errors.New("region is required")
	}
	return nil
}

// DefaultTags are applied to every stack.
func DefaultTags() map[string]string {
	return map[string]string{
		"app":        "cortexrag",
		"managed-by": "cortexrag",
	}
}

func summarize(changes []Change) map[string]int {
	summary := make(map[string]int)
	for _, c := range changes {
		summary[c.Action]++
	}
	return summary
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].LogicalId < changes[j].LogicalId
	})
}

// LookupOutputs returns the outputs of the first of names that exists.
func LookupOutputs(ctx context.Context, d Deployer, names ...string) (*Outputs, error) {
	log := logging.GetLogger(ctx)
	for _, name := range names {
		out, err := d.Outputs(ctx, name)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrStackNotFound):
			log.Debug("stack not found, trying next name", zap.String("stack", name))
		default:
			return nil, fmt.Errorf("could not get outputs of %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("none of %v: %w", names, ErrStackNotFound)
}

// Teardown empties the stack's document bucket, then deletes the stack. req.StackName is tried first, then
// each of fallbacks, and the first that exists is torn down. A stack that does not exist is not an error.
func Teardown(ctx context.Context, d Deployer, emptier BucketEmptier, req Request, fallbacks ...string) error {
	log := logging.GetLogger(ctx)
	var out *Outputs
	for _, name := range append([]string{req.StackName}, fallbacks...) {
		o, err := d.Outputs(ctx, name)
		if errors.Is(err, ErrStackNotFound) {
			log.Debug("stack not found, trying next name", zap.String("stack", name))
			continue
		}
		if err != nil {
			return err
		}
		out, req.StackName = o, name
		break
	}
	if out == nil {
		log.Info("stack does not exist, nothing to destroy", zap.String("stack", req.StackName))
		return nil
	}
	if out.BucketName != "" {
		log.Info("emptying document bucket", zap.String("bucket", out.BucketName))
		if err := emptier.Empty(ctx, out.BucketName); err != nil {
			return fmt.Errorf("could not empty bucket %s: %w", out.BucketName, err)
		}
	}
	return d.Destroy(ctx, req)
}
