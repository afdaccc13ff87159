package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/klothoplatform/cortexrag/pkg/deploy"
	"github.com/klothoplatform/cortexrag/pkg/documents"
	"github.com/klothoplatform/cortexrag/pkg/handoff"
	"github.com/klothoplatform/cortexrag/pkg/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(calls *[]string, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		*calls = append(*calls, name)
		return err
	}
}

func TestPlanOrder(t *testing.T) {
	tests := []struct {
		name  string
		steps []*Step
		want  []string
	}{
		{
			name: "chain",
			steps: []*Step{
				{Name: "c", Needs: []string{"b"}},
				{Name: "b", Needs: []string{"a"}},
				{Name: "a"},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "ties follow declaration",
			steps: []*Step{
				{Name: "root"},
				{Name: "z", Needs: []string{"root"}},
				{Name: "y", Needs: []string{"root"}},
				{Name: "x"},
			},
			want: []string{"root", "z", "y", "x"},
		},
		{
			name: "diamond",
			steps: []*Step{
				{Name: "a"},
				{Name: "b", Needs: []string{"a"}},
				{Name: "c", Needs: []string{"a"}},
				{Name: "d", Needs: []string{"c", "b"}},
			},
			want: []string{"a", "b", "c", "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			p, err := NewPlan(tt.steps...)
			if !assert.NoError(err) {
				return
			}
			got, err := p.Order()
			assert.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestNewPlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   []*Step
		wantErr string
	}{
		{
			name:    "unknown need",
			steps:   []*Step{{Name: "a", Needs: []string{"missing"}}},
			wantErr: "needs unknown step missing",
		},
		{
			name: "cycle",
			steps: []*Step{
				{Name: "a", Needs: []string{"c"}},
				{Name: "b", Needs: []string{"a"}},
				{Name: "c", Needs: []string{"b"}},
			},
			wantErr: "creates a cycle",
		},
		{
			name:    "duplicate",
			steps:   []*Step{{Name: "a"}, {Name: "a"}},
			wantErr: "could not add step a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(tt.steps...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPlanRun(t *testing.T) {
	t.Run("required failure skips the rest", func(t *testing.T) {
		assert := assert.New(t)
		var calls []string
		p, err := NewPlan(
			&Step{Name: "a", Run: record(&calls, "a", nil)},
			&Step{Name: "b", Needs: []string{"a"}, Run: record(&calls, "b", errors.New("boom"))},
			&Step{Name: "c", Needs: []string{"b"}, Run: record(&calls, "c", nil)},
			&Step{Name: "d", Run: record(&calls, "d", nil)},
		)
		require.NoError(t, err)

		report, err := p.Run(context.Background())
		assert.ErrorContains(err, "step b failed: boom")
		assert.Equal([]string{"a", "b"}, calls)

		statuses := map[string]Status{}
		for _, res := range report.Results {
			statuses[res.Step] = res.Status
		}
		assert.Equal(map[string]Status{
			"a": StatusSucceeded,
			"b": StatusFailed,
			"c": StatusSkipped,
			"d": StatusSkipped,
		}, statuses)
	})

	t.Run("optional failure warns", func(t *testing.T) {
		assert := assert.New(t)
		var calls []string
		p, err := NewPlan(
			&Step{Name: "a", Optional: true, Run: record(&calls, "a", errors.New("denied"))},
			&Step{Name: "b", Needs: []string{"a"}, Run: record(&calls, "b", nil)},
		)
		require.NoError(t, err)

		report, err := p.Run(context.Background())
		assert.NoError(err)
		assert.Equal([]string{"a", "b"}, calls)

		res, ok := report.Step("a")
		assert.True(ok)
		assert.Equal(StatusWarned, res.Status)
		assert.EqualError(res.Err, "denied")
		res, _ = report.Step("b")
		assert.Equal(StatusSucceeded, res.Status)
	})
}

type fakeDeployer struct {
	deploy.Deployer
	outputs map[string]*deploy.Outputs
}

func (f *fakeDeployer) Outputs(ctx context.Context, stackName string) (*deploy.Outputs, error) {
	if out, ok := f.outputs[stackName]; ok {
		return out, nil
	}
	return nil, fmt.Errorf("%s: %w", stackName, deploy.ErrStackNotFound)
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, docs []documents.Document) ([]documents.Staged, error) {
	staged := make([]documents.Staged, len(docs))
	for i, d := range docs {
		staged[i] = documents.Staged{Document: d, Path: "/tmp/" + d.FileName, Size: 10}
	}
	return staged, nil
}

type fakeUploader struct {
	bucket string
	count  int
}

func (f *fakeUploader) Upload(ctx context.Context, bucket string, docs []documents.Staged) error {
	f.bucket = bucket
	f.count = len(docs)
	return nil
}

type fakeWarehouse struct {
	calls  []string
	chunks int64
	closed bool
}

func (f *fakeWarehouse) called(name string) { f.calls = append(f.calls, name) }

func (f *fakeWarehouse) CreateWarehouse(ctx context.Context) error {
	f.called("CreateWarehouse")
	return nil
}

func (f *fakeWarehouse) CreateStage(ctx context.Context) error {
	f.called("CreateStage")
	return nil
}

func (f *fakeWarehouse) StageDocuments(ctx context.Context, docs []documents.Staged) ([]string, error) {
	f.called("StageDocuments")
	return nil, nil
}

func (f *fakeWarehouse) ParseDocuments(ctx context.Context, docs []documents.Document) ([]warehouse.ParsedDocument, error) {
	f.called("ParseDocuments")
	return nil, nil
}

func (f *fakeWarehouse) ChunkDocuments(ctx context.Context) (int64, error) {
	f.called("ChunkDocuments")
	return f.chunks, nil
}

func (f *fakeWarehouse) CreateSearchService(ctx context.Context) error {
	f.called("CreateSearchService")
	return nil
}

func (f *fakeWarehouse) CreateOAuthIntegration(ctx context.Context, webExperienceURL string) (string, error) {
	f.called("CreateOAuthIntegration")
	return warehouse.RedirectURI(webExperienceURL), nil
}

func (f *fakeWarehouse) Grant(ctx context.Context) error {
	f.called("Grant")
	return nil
}

func (f *fakeWarehouse) Credentials(ctx context.Context) (warehouse.ClientCredentials, error) {
	f.called("Credentials")
	return warehouse.ClientCredentials{ClientID: "id", ClientSecret: "secret"}, nil
}

func (f *fakeWarehouse) Validate(ctx context.Context) (*warehouse.Validation, error) {
	f.called("Validate")
	return &warehouse.Validation{Documents: 2, Chunks: f.chunks, Status: "ACTIVE"}, nil
}

func (f *fakeWarehouse) Close() error {
	f.closed = true
	return nil
}

type fakeHandoff struct {
	secret       handoff.Credentials
	knowledgeErr error
	refreshed    string
}

func (f *fakeHandoff) WriteSecret(ctx context.Context, secretArn string, creds handoff.Credentials) error {
	f.secret = creds
	return nil
}

func (f *fakeHandoff) EnableGeneralKnowledge(ctx context.Context, applicationId string) error {
	return f.knowledgeErr
}

func (f *fakeHandoff) RefreshPlugin(ctx context.Context, applicationId, pluginId string) error {
	f.refreshed = pluginId
	return nil
}

var deployed = &deploy.Outputs{
	StackName:        "CortexRagStack",
	ApplicationId:    "app-1",
	ApplicationUrl:   "https://console.aws.amazon.com/amazonq/business/applications/app-1",
	PluginRef:        "app-1|plg-1",
	WebExperienceUrl: "https://abc.chat.qbusiness.us-east-1.on.aws/",
	BucketName:       "docs-bucket",
	SecretArn:        "arn:secret",
}

func newSetup(wh *fakeWarehouse, h *fakeHandoff, up *fakeUploader) *Setup {
	return &Setup{
		Deployer: &fakeDeployer{outputs: map[string]*deploy.Outputs{"CortexRagStack": deployed}},
		Fetcher:  fakeFetcher{},
		Uploader: up,
		OpenWarehouse: func(ctx context.Context) (Warehouse, error) {
			return wh, nil
		},
		Handoff:    h,
		StackNames: []string{"cortex-rag", "CortexRagStack"},
	}
}

func TestSetupPlanOrder(t *testing.T) {
	assert := assert.New(t)
	p, err := (&Setup{}).Plan()
	require.NoError(t, err)
	order, err := p.Order()
	assert.NoError(err)
	assert.Equal([]string{
		StepOutputs,
		StepDocuments,
		StepWarehouse,
		StepSearchService,
		StepOAuthIntegration,
		StepCredentials,
		StepSecret,
		StepGeneralKnowledge,
		StepPluginRefresh,
		StepValidate,
	}, order)
}

func TestSetupRun(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		assert := assert.New(t)
		wh := &fakeWarehouse{chunks: 42}
		h := &fakeHandoff{knowledgeErr: errors.New("access denied")}
		up := &fakeUploader{}

		result, err := newSetup(wh, h, up).Run(context.Background())
		require.NoError(t, err)

		assert.Equal("CortexRagStack", result.Outputs.StackName)
		assert.Equal("docs-bucket", up.bucket)
		assert.Equal(len(documents.DefaultCorpus), up.count)
		assert.EqualValues(42, result.Chunks)
		assert.Equal("https://abc.chat.qbusiness.us-east-1.on.aws/oauth/callback", result.Redirect)
		assert.Equal(handoff.Credentials{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURI:  "https://abc.chat.qbusiness.us-east-1.on.aws/oauth/callback",
		}, h.secret)
		assert.Equal("plg-1", h.refreshed)
		assert.Equal("ACTIVE", result.Validation.Status)
		assert.True(wh.closed)

		res, ok := result.Report.Step(StepGeneralKnowledge)
		assert.True(ok)
		assert.Equal(StatusWarned, res.Status)
		res, _ = result.Report.Step(StepValidate)
		assert.Equal(StatusSucceeded, res.Status)
	})

	t.Run("no chunks stops the run", func(t *testing.T) {
		assert := assert.New(t)
		wh := &fakeWarehouse{}
		h := &fakeHandoff{}

		result, err := newSetup(wh, h, &fakeUploader{}).Run(context.Background())
		assert.ErrorContains(err, "step warehouse failed")
		assert.NotContains(wh.calls, "CreateSearchService")
		assert.Empty(h.secret.ClientID)
		assert.True(wh.closed)

		res, _ := result.Report.Step(StepValidate)
		assert.Equal(StatusSkipped, res.Status)
	})

	t.Run("missing stack", func(t *testing.T) {
		assert := assert.New(t)
		s := newSetup(&fakeWarehouse{}, &fakeHandoff{}, &fakeUploader{})
		s.StackNames = []string{"other"}

		result, err := s.Run(context.Background())
		assert.ErrorIs(err, deploy.ErrStackNotFound)
		assert.Nil(result.Outputs)
	})
}

func TestPrintSummary(t *testing.T) {
	color.NoColor = true
	t.Run("success", func(t *testing.T) {
		assert := assert.New(t)
		var buf bytes.Buffer
		PrintSummary(&buf, &Result{
			Outputs:    deployed,
			Validation: &warehouse.Validation{Documents: 2, Chunks: 42, Status: "ACTIVE"},
			Report: &Report{Results: []StepResult{
				{Step: StepOutputs, Status: StatusSucceeded},
				{Step: StepGeneralKnowledge, Status: StatusWarned, Err: errors.New("access denied")},
			}},
		}, nil)

		out := buf.String()
		assert.Contains(out, "Setup complete")
		assert.Contains(out, deployed.WebExperienceUrl)
		assert.Contains(out, "2 documents into 42 chunks")
		assert.Contains(out, "access denied")
		for _, q := range SampleQuestions {
			assert.Contains(out, q)
		}
	})

	t.Run("failure", func(t *testing.T) {
		assert := assert.New(t)
		var buf bytes.Buffer
		PrintSummary(&buf, &Result{}, errors.New("boom"))
		assert.Contains(buf.String(), "Setup failed")
		assert.NotContains(buf.String(), SampleQuestions[0])
	})
}
