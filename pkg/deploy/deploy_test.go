package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/auto/events"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type fakeDeployer struct {
	outputs   map[string]*Outputs
	destroyed []string
}

func (f *fakeDeployer) Deploy(ctx context.Context, req Request) (*Outputs, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDeployer) Preview(ctx context.Context, req Request) (*Preview, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDeployer) Outputs(ctx context.Context, stackName string) (*Outputs, error) {
	if out, ok := f.outputs[stackName]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w", stackName, ErrStackNotFound)
}

func (f *fakeDeployer) Destroy(ctx context.Context, req Request) error {
	f.destroyed = append(f.destroyed, req.StackName)
	return nil
}

type fakeEmptier struct {
	emptied []string
	err     error
}

func (f *fakeEmptier) Empty(ctx context.Context, bucket string) error {
	f.emptied = append(f.emptied, bucket)
	return f.err
}

func TestDecodeOutputs(t *testing.T) {
	assert := assert.New(t)
	raw := map[string]any{
		"QBusinessApplicationId":  "app-1",
		"QBusinessApplicationUrl": "https://console.aws.amazon.com/amazonq/business/applications/app-1",
		"CortexPluginId":          "app-1|plg-9",
		"WebExperienceId":         "app-1|web-2",
		"WebExperienceUrl":        "https://web.chat.qbusiness.us-east-1.on.aws/",
		"DocumentsBucketName":     "bucket",
		"SnowflakeOAuthSecretArn": "arn:secret",
		"SnowflakeAccount":        "ORG-ACCT",
		"AutomationScript":        "cortexrag setup",
		"Unrelated":               "ignored",
	}
	out, err := DecodeOutputs("stack", raw)
	require.NoError(t, err)

	assert.Equal("stack", out.StackName)
	assert.Equal("plg-9", out.PluginID())
	assert.Equal("ORG-ACCT", out.WarehouseAccount)
	assert.Equal("cortexrag setup", out.SetupCommand)
	assert.NoError(out.Require())
	assert.Len(out.Pairs(), 9)
}

func TestOutputsRequire(t *testing.T) {
	assert := assert.New(t)
	out := Outputs{StackName: "stack", ApplicationId: "app-1", PluginRef: "plg"}
	errs := multierr.Errors(out.Require())
	assert.Len(errs, 3)
	assert.Equal("plg", out.PluginID())
}

func TestLookupOutputs(t *testing.T) {
	tests := []struct {
		name      string
		available map[string]*Outputs
		want      string
		wantErr   bool
	}{
		{
			name:      "regional name first",
			available: map[string]*Outputs{"Stack-useast1": {StackName: "Stack-useast1"}, "Stack": {StackName: "Stack"}},
			want:      "Stack-useast1",
		},
		{
			name:      "falls back to legacy name",
			available: map[string]*Outputs{"Stack": {StackName: "Stack"}},
			want:      "Stack",
		},
		{
			name:    "none exist",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			out, err := LookupOutputs(context.Background(), &fakeDeployer{outputs: tt.available}, "Stack-useast1", "Stack")
			if tt.wantErr {
				assert.ErrorIs(err, ErrStackNotFound)
				return
			}
			if assert.NoError(err) {
				assert.Equal(tt.want, out.StackName)
			}
		})
	}
}

func TestTeardown(t *testing.T) {
	t.Run("empties bucket before destroy", func(t *testing.T) {
		assert := assert.New(t)
		d := &fakeDeployer{outputs: map[string]*Outputs{testStack: {BucketName: "docs"}}}
		e := &fakeEmptier{}

		assert.NoError(Teardown(context.Background(), d, e, testRequest()))
		assert.Equal([]string{"docs"}, e.emptied)
		assert.Equal([]string{testStack}, d.destroyed)
	})

	t.Run("missing stack is not an error", func(t *testing.T) {
		assert := assert.New(t)
		d := &fakeDeployer{}
		e := &fakeEmptier{}

		assert.NoError(Teardown(context.Background(), d, e, testRequest()))
		assert.Empty(e.emptied)
		assert.Empty(d.destroyed)
	})

	t.Run("failed empty keeps stack", func(t *testing.T) {
		assert := assert.New(t)
		d := &fakeDeployer{outputs: map[string]*Outputs{testStack: {BucketName: "docs"}}}
		e := &fakeEmptier{err: errors.New("access denied")}

		assert.ErrorContains(Teardown(context.Background(), d, e, testRequest()), "access denied")
		assert.Empty(d.destroyed)
	})

	t.Run("falls back to the next name", func(t *testing.T) {
		assert := assert.New(t)
		d := &fakeDeployer{outputs: map[string]*Outputs{"LegacyStack": {BucketName: "legacy-docs"}}}
		e := &fakeEmptier{}

		assert.NoError(Teardown(context.Background(), d, e, testRequest(), "LegacyStack"))
		assert.Equal([]string{"legacy-docs"}, e.emptied)
		assert.Equal([]string{"LegacyStack"}, d.destroyed)
	})

	t.Run("first existing name wins", func(t *testing.T) {
		assert := assert.New(t)
		d := &fakeDeployer{outputs: map[string]*Outputs{
			testStack:     {BucketName: "docs"},
			"LegacyStack": {BucketName: "legacy-docs"},
		}}
		e := &fakeEmptier{}

		assert.NoError(Teardown(context.Background(), d, e, testRequest(), "LegacyStack"))
		assert.Equal([]string{testStack}, d.destroyed)
	})
}

func TestRequestValidate(t *testing.T) {
	assert := assert.New(t)
	assert.Error(Request{Region: "us-east-1"}.Validate())
	assert.Error(Request{StackName: "s"}.Validate())
	assert.NoError(testRequest().Validate())
}

type stackMocks struct {
	mu        sync.Mutex
	resources []pulumi.MockResourceArgs
}

func (m *stackMocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, args)

	outs := args.Inputs.Copy()
	outs["outputs"] = resource.NewObjectProperty(resource.PropertyMap{
		"QBusinessApplicationId": resource.NewStringProperty("app-1"),
	})
	return args.Name + "_id", outs, nil
}

func (m *stackMocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func TestPulumiProgram(t *testing.T) {
	assert := assert.New(t)
	m := &stackMocks{}
	req := testRequest()

	err := pulumi.RunErr(program(req), pulumi.WithMocks(pulumiProject, "test", m))
	require.NoError(t, err)

	var res *pulumi.MockResourceArgs
	for i := range m.resources {
		if m.resources[i].TypeToken == "aws:cloudformation/stack:Stack" {
			res = &m.resources[i]
		}
	}
	require.NotNil(t, res)
	assert.Equal(stackResource, res.Name)
	assert.Equal(testStack, res.Inputs["name"].StringValue())
	assert.Equal(string(req.Template), res.Inputs["templateBody"].StringValue())
	assert.Len(res.Inputs["capabilities"].ArrayValue(), 2)
}

func TestChangeFromStep(t *testing.T) {
	urn := func(typ, name string) string {
		return "urn:pulumi:SnowflakeQBusinessRagStack-uswest2::cortexrag::" + typ + "::" + name
	}
	tests := []struct {
		name   string
		md     apitype.StepEventMetadata
		want   Change
		wantOk bool
	}{
		{
			name:   "create",
			md:     apitype.StepEventMetadata{Op: apitype.OpCreate, Type: "aws:cloudformation/stack:Stack", URN: urn("aws:cloudformation/stack:Stack", "rag")},
			want:   Change{Action: "create", LogicalId: "rag", ResourceType: "aws:cloudformation/stack:Stack"},
			wantOk: true,
		},
		{
			name:   "replace",
			md:     apitype.StepEventMetadata{Op: apitype.OpReplace, Type: "aws:cloudformation/stack:Stack", URN: urn("aws:cloudformation/stack:Stack", "rag")},
			want:   Change{Action: "replace", LogicalId: "rag", ResourceType: "aws:cloudformation/stack:Stack", Replacement: "True"},
			wantOk: true,
		},
		{
			name: "unchanged",
			md:   apitype.StepEventMetadata{Op: apitype.OpSame, Type: "aws:cloudformation/stack:Stack", URN: urn("aws:cloudformation/stack:Stack", "rag")},
		},
		{
			name: "stack",
			md:   apitype.StepEventMetadata{Op: apitype.OpCreate, Type: "pulumi:pulumi:Stack", URN: urn("pulumi:pulumi:Stack", "cortexrag")},
		},
		{
			name: "provider",
			md:   apitype.StepEventMetadata{Op: apitype.OpCreate, Type: "pulumi:providers:aws", URN: urn("pulumi:providers:aws", "default_6_65_0")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got, ok := changeFromStep(tt.md)
			assert.Equal(tt.wantOk, ok)
			assert.Equal(tt.want, got)
		})
	}
}

func TestEventLoggerChanges(t *testing.T) {
	assert := assert.New(t)
	el := newEventLogger(zap.NewNop(), "previewing")
	step := func(op apitype.OpType, typ, name string) events.EngineEvent {
		return events.EngineEvent{EngineEvent: apitype.EngineEvent{ResourcePreEvent: &apitype.ResourcePreEvent{
			Metadata: apitype.StepEventMetadata{Op: op, Type: typ, URN: "urn:pulumi:s::cortexrag::" + typ + "::" + name},
		}}}
	}
	el.events <- step(apitype.OpCreate, "pulumi:pulumi:Stack", "cortexrag-s")
	el.events <- step(apitype.OpUpdate, "aws:cloudformation/stack:Stack", "rag")
	el.events <- step(apitype.OpSame, "pulumi:providers:aws", "default")
	close(el.events)

	changes := el.Changes(context.Background())
	assert.Equal([]Change{{Action: "update", LogicalId: "rag", ResourceType: "aws:cloudformation/stack:Stack"}}, changes)
}

func TestNewPulumiPluginVersion(t *testing.T) {
	p := NewPulumi(t.TempDir(), "secret")
	assert.Equal(t, DefaultAWSPluginVersion, p.AWSPluginVersion)
}
