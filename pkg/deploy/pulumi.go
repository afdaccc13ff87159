package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudformation"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/events"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/common/workspace"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultAWSPluginVersion matches the pulumi-aws SDK the program is built against.
const DefaultAWSPluginVersion = "v6.65.0"

const (
	pulumiProject    = "cortexrag"
	stackResource    = "rag"
	outputsExportKey = "outputs"
)

// Pulumi deploys the template by wrapping it in an aws:cloudformation:Stack resource managed by a local
// Pulumi backend under StateDir.
type Pulumi struct {
	StateDir   string
	Passphrase string
	FS         afero.Fs

	// AWSPluginVersion is installed before each operation when set. NewPulumi sets DefaultAWSPluginVersion.
	AWSPluginVersion string
}

func NewPulumi(stateDir, passphrase string) *Pulumi {
	return &Pulumi{
		StateDir:   stateDir,
		Passphrase: passphrase,
		FS:         afero.NewOsFs(),

		AWSPluginVersion: DefaultAWSPluginVersion,
	}
}

// program wraps the template in a single CloudFormation stack resource and exports its outputs.
func program(req Request) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		st, err := cloudformation.NewStack(ctx, stackResource, &cloudformation.StackArgs{
			Name:         pulumi.String(req.StackName),
			TemplateBody: pulumi.String(string(req.Template)),
			Capabilities: pulumi.ToStringArray([]string{"CAPABILITY_IAM", "CAPABILITY_NAMED_IAM"}),
			Tags:         pulumi.ToStringMap(req.Tags),
		})
		if err != nil {
			return err
		}
		ctx.Export(outputsExportKey, st.Outputs)
		return nil
	}
}

func noopProgram(*pulumi.Context) error {
	return nil
}

func (p *Pulumi) dirs() (home, state string, err error) {
	fs := p.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	home = filepath.Join(p.StateDir, "pulumi")
	state = filepath.Join(home, "state")
	for _, dir := range []string{home, state} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return "", "", fmt.Errorf("failed to create pulumi directory %s: %w", dir, err)
		}
	}
	return home, state, nil
}

func (p *Pulumi) options() ([]auto.LocalWorkspaceOption, error) {
	home, state, err := p.dirs()
	if err != nil {
		return nil, err
	}
	proj := auto.Project(workspace.Project{
		Name:    tokens.PackageName(pulumiProject),
		Runtime: workspace.NewProjectRuntimeInfo("go", nil),
		Backend: &workspace.ProjectBackend{URL: "file://" + state},
	})
	return []auto.LocalWorkspaceOption{
		proj,
		auto.PulumiHome(home),
		auto.SecretsProvider("passphrase"),
		auto.EnvVars(map[string]string{"PULUMI_CONFIG_PASSPHRASE": p.Passphrase}),
	}, nil
}

func (p *Pulumi) upsert(ctx context.Context, req Request) (auto.Stack, error) {
	opts, err := p.options()
	if err != nil {
		return auto.Stack{}, err
	}
	s, err := auto.UpsertStackInlineSource(ctx, req.StackName, pulumiProject, program(req), opts...)
	if err != nil {
		return auto.Stack{}, fmt.Errorf("failed to create or select stack: %w", err)
	}
	if p.AWSPluginVersion != "" {
		if err := s.Workspace().InstallPlugin(ctx, "aws", p.AWSPluginVersion); err != nil {
			return auto.Stack{}, fmt.Errorf("failed to install aws plugin: %w", err)
		}
	}
	if err := s.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: req.Region}); err != nil {
		return auto.Stack{}, fmt.Errorf("failed to set stack configuration: %w", err)
	}
	return s, nil
}

func (p *Pulumi) selectExisting(ctx context.Context, stackName string) (auto.Stack, error) {
	opts, err := p.options()
	if err != nil {
		return auto.Stack{}, err
	}
	s, err := auto.SelectStackInlineSource(ctx, stackName, pulumiProject, noopProgram, opts...)
	if err != nil {
		if auto.IsSelectStack404Error(err) {
			return auto.Stack{}, fmt.Errorf("%s: %w", stackName, ErrStackNotFound)
		}
		return auto.Stack{}, fmt.Errorf("failed to select stack: %w", err)
	}
	return s, nil
}

// firstLine trims pulumi's multi-line errors, the rest repeats what was already streamed to the log.
func firstLine(err error) string {
	line, _, _ := strings.Cut(err.Error(), "\n")
	return line
}

func (p *Pulumi) Deploy(ctx context.Context, req Request) (*Outputs, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logging.GetLogger(ctx).Named("deploy.pulumi").With(zap.String("stack", req.StackName))

	s, err := p.upsert(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info("starting update")
	res, err := s.Up(ctx,
		optup.ProgressStreams(logging.NewLoggerWriter(log.Named("engine"), zap.InfoLevel)),
		optup.EventStreams(newEventLogger(log, "deploying").events),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update stack: %s", firstLine(err))
	}
	log.Info("stack deployed", zap.Any("summary", res.Summary.ResourceChanges))
	return outputsFrom(req.StackName, res.Outputs)
}

func (p *Pulumi) Preview(ctx context.Context, req Request) (*Preview, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logging.GetLogger(ctx).Named("deploy.pulumi").With(zap.String("stack", req.StackName))

	s, err := p.upsert(ctx, req)
	if err != nil {
		return nil, err
	}
	el := newEventLogger(log, "previewing")
	res, err := s.Preview(ctx,
		optpreview.ProgressStreams(logging.NewLoggerWriter(log.Named("engine"), zap.InfoLevel)),
		optpreview.EventStreams(el.events),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to preview stack: %s", firstLine(err))
	}
	preview := &Preview{
		StackName: req.StackName,
		Changes:   el.Changes(ctx),
		Summary:   make(map[string]int),
	}
	sortChanges(preview.Changes)
	for op, n := range res.ChangeSummary {
		preview.Summary[string(op)] = n
	}
	return preview, nil
}

func (p *Pulumi) Outputs(ctx context.Context, stackName string) (*Outputs, error) {
	s, err := p.selectExisting(ctx, stackName)
	if err != nil {
		return nil, err
	}
	out, err := s.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack outputs: %w", err)
	}
	if _, ok := out[outputsExportKey]; !ok {
		return nil, fmt.Errorf("%s has not been deployed: %w", stackName, ErrStackNotFound)
	}
	return outputsFrom(stackName, out)
}

func outputsFrom(stackName string, out auto.OutputMap) (*Outputs, error) {
	v, ok := out[outputsExportKey]
	if !ok {
		return nil, fmt.Errorf("stack %s exported no %q", stackName, outputsExportKey)
	}
	raw, ok := v.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("stack %s: unexpected %q export of type %T", stackName, outputsExportKey, v.Value)
	}
	return DecodeOutputs(stackName, raw)
}

func (p *Pulumi) Destroy(ctx context.Context, req Request) error {
	log := logging.GetLogger(ctx).Named("deploy.pulumi").With(zap.String("stack", req.StackName))

	s, err := p.selectExisting(ctx, req.StackName)
	if errors.Is(err, ErrStackNotFound) {
		log.Info("stack does not exist")
		return nil
	} else if err != nil {
		return err
	}
	if err := s.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: req.Region}); err != nil {
		return fmt.Errorf("failed to set stack configuration: %w", err)
	}
	log.Info("starting destroy")
	_, err = s.Destroy(ctx,
		optdestroy.ProgressStreams(logging.NewLoggerWriter(log.Named("engine"), zap.InfoLevel)),
		optdestroy.EventStreams(newEventLogger(log, "destroying").events),
	)
	if err != nil {
		return fmt.Errorf("failed to destroy stack: %s", firstLine(err))
	}
	if err := s.Workspace().RemoveStack(ctx, req.StackName); err != nil {
		return fmt.Errorf("failed to remove stack: %w", err)
	}
	log.Info("stack destroyed")
	return nil
}

// eventLogger logs resource progress from the engine's event stream and records the planned changes. The
// engine closes the stream when the operation finishes.
type eventLogger struct {
	log     *zap.Logger
	action  string
	events  chan events.EngineEvent
	done    chan struct{}
	changes []Change
}

func newEventLogger(log *zap.Logger, action string) *eventLogger {
	el := &eventLogger{
		log:    log.Named("events"),
		action: action,
		events: make(chan events.EngineEvent),
		done:   make(chan struct{}),
	}
	go el.run()
	return el
}

func (el *eventLogger) run() {
	defer close(el.done)
	for e := range el.events {
		switch {
		case e.ResourcePreEvent != nil:
			md := e.ResourcePreEvent.Metadata
			if md.Op == apitype.OpSame {
				continue
			}
			el.log.Info(el.action, zap.String("op", string(md.Op)), zap.String("type", md.Type), zap.String("urn", md.URN))
			if c, ok := changeFromStep(md); ok {
				el.changes = append(el.changes, c)
			}
		case e.ResOutputsEvent != nil:
			md := e.ResOutputsEvent.Metadata
			if md.Op == apitype.OpSame {
				continue
			}
			el.log.Info("done", zap.String("op", string(md.Op)), zap.String("type", md.Type), zap.String("urn", md.URN))
		case e.ResOpFailedEvent != nil:
			md := e.ResOpFailedEvent.Metadata
			el.log.Error("failed", zap.String("op", string(md.Op)), zap.String("urn", md.URN))
		case e.DiagnosticEvent != nil && e.DiagnosticEvent.Severity == "error":
			el.log.Error(strings.TrimSpace(e.DiagnosticEvent.Message), zap.String("urn", e.DiagnosticEvent.URN))
		}
	}
}

// Changes waits for the stream to end and returns the changes it announced.
func (el *eventLogger) Changes(ctx context.Context) []Change {
	select {
	case <-el.done:
		return el.changes
	case <-ctx.Done():
		return nil
	}
}

// changeFromStep converts a step of the engine into a Change. Unchanged resources, the stack itself and
// providers are not changes to the template's resources.
func changeFromStep(md apitype.StepEventMetadata) (Change, bool) {
	if md.Op == apitype.OpSame || md.Type == "pulumi:pulumi:Stack" || strings.HasPrefix(md.Type, "pulumi:providers:") {
		return Change{}, false
	}
	name := md.URN
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	c := Change{Action: string(md.Op), LogicalId: name, ResourceType: md.Type}
	if md.Op == apitype.OpReplace || md.Op == apitype.OpCreateReplacement || md.Op == apitype.OpDeleteReplaced {
		c.Replacement = "True"
	}
	return c, true
}
