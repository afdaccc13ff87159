package automation

import (
	"context"
	"errors"

	"github.com/klothoplatform/cortexrag/pkg/deploy"
	"github.com/klothoplatform/cortexrag/pkg/documents"
	"github.com/klothoplatform/cortexrag/pkg/handoff"
	"github.com/klothoplatform/cortexrag/pkg/logging"
	"github.com/klothoplatform/cortexrag/pkg/warehouse"
	"go.uber.org/zap"
)

const (
	StepOutputs          = "outputs"
	StepDocuments        = "documents"
	StepWarehouse        = "warehouse"
	StepSearchService    = "search-service"
	StepOAuthIntegration = "oauth-integration"
	StepCredentials      = "credentials"
	StepSecret           = "secret"
	StepGeneralKnowledge = "general-knowledge"
	StepPluginRefresh    = "plugin-refresh"
	StepValidate         = "validate"
)

type (
	Fetcher interface {
		Fetch(ctx context.Context, docs []documents.Document) ([]documents.Staged, error)
	}

	Uploader interface {
		Upload(ctx context.Context, bucket string, docs []documents.Staged) error
	}

	Warehouse interface {
		CreateWarehouse(ctx context.Context) error
		CreateStage(ctx context.Context) error
		StageDocuments(ctx context.Context, docs []documents.Staged) ([]string, error)
		ParseDocuments(ctx context.Context, docs []documents.Document) ([]warehouse.ParsedDocument, error)
		ChunkDocuments(ctx context.Context) (int64, error)
		CreateSearchService(ctx context.Context) error
		CreateOAuthIntegration(ctx context.Context, webExperienceURL string) (string, error)
		Grant(ctx context.Context) error
		Credentials(ctx context.Context) (warehouse.ClientCredentials, error)
		Validate(ctx context.Context) (*warehouse.Validation, error)
		Close() error
	}

	Handoff interface {
		WriteSecret(ctx context.Context, secretArn string, creds handoff.Credentials) error
		EnableGeneralKnowledge(ctx context.Context, applicationId string) error
		RefreshPlugin(ctx context.Context, applicationId, pluginId string) error
	}
)

// Setup connects a deployed stack to the warehouse.
type Setup struct {
	Deployer      deploy.Deployer
	Fetcher       Fetcher
	Uploader      Uploader
	OpenWarehouse func(ctx context.Context) (Warehouse, error)
	Handoff       Handoff

	// StackNames are tried in order when reading the stack outputs.
	StackNames []string
	Documents  []documents.Document
}

// Result is what a setup run produced, as far as it got.
type Result struct {
	Outputs    *deploy.Outputs
	Staged     []documents.Staged
	Chunks     int64
	Redirect   string
	Validation *warehouse.Validation
	Report     *Report
}

type run struct {
	*Setup
	result  *Result
	session Warehouse
	creds   warehouse.ClientCredentials
}

func (r *run) steps() []*Step {
	return []*Step{
		{Name: StepOutputs, Run: r.outputs},
		{Name: StepDocuments, Needs: []string{StepOutputs}, Run: r.documents},
		{Name: StepWarehouse, Needs: []string{StepDocuments}, Run: r.warehouse},
		{Name: StepSearchService, Needs: []string{StepWarehouse}, Run: r.searchService},
		{Name: StepOAuthIntegration, Needs: []string{StepSearchService}, Run: r.oauthIntegration},
		{Name: StepCredentials, Needs: []string{StepOAuthIntegration}, Run: r.credentials},
		{Name: StepSecret, Needs: []string{StepCredentials}, Run: r.secret},
		{Name: StepGeneralKnowledge, Needs: []string{StepOutputs}, Optional: true, Run: r.generalKnowledge},
		{Name: StepPluginRefresh, Needs: []string{StepSecret}, Run: r.pluginRefresh},
		{Name: StepValidate, Needs: []string{StepSearchService, StepPluginRefresh}, Run: r.validate},
	}
}

// Plan returns the step graph of a run without executing it.
func (s *Setup) Plan() (*Plan, error) {
	r := &run{Setup: s, result: &Result{}}
	return NewPlan(r.steps()...)
}

// Run executes every step. The returned Result is never nil, so callers can report partial progress.
func (s *Setup) Run(ctx context.Context) (*Result, error) {
	r := &run{Setup: s, result: &Result{}}
	defer func() {
		if r.session != nil {
			if err := r.session.Close(); err != nil {
				logging.GetLogger(ctx).Named("automation").Debug("closing warehouse session", zap.Error(err))
			}
		}
	}()

	plan, err := NewPlan(r.steps()...)
	if err != nil {
		return r.result, err
	}
	r.result.Report, err = plan.Run(ctx)
	return r.result, err
}

func (r *run) outputs(ctx context.Context) error {
	out, err := deploy.LookupOutputs(ctx, r.Deployer, r.StackNames...)
	if err != nil {
		return err
	}
	if err := out.Require(); err != nil {
		return err
	}
	r.result.Outputs = out
	logging.GetLogger(ctx).Named("automation").Info("stack outputs",
		zap.String("stack", out.StackName),
		zap.String("bucket", out.BucketName),
		zap.String("web_experience_url", out.WebExperienceUrl),
		zap.String("secret", out.SecretArn),
	)
	return nil
}

func (r *run) documents(ctx context.Context) error {
	docs := r.Documents
	if len(docs) == 0 {
		docs = documents.DefaultCorpus
	}
	staged, err := r.Fetcher.Fetch(ctx, docs)
	if err != nil {
		return err
	}
	r.result.Staged = staged
	return r.Uploader.Upload(ctx, r.result.Outputs.BucketName, staged)
}

func (r *run) warehouse(ctx context.Context) error {
	session, err := r.OpenWarehouse(ctx)
	if err != nil {
		return err
	}
	r.session = session

	if err := session.CreateWarehouse(ctx); err != nil {
		return err
	}
	if err := session.CreateStage(ctx); err != nil {
		return err
	}
	if _, err := session.StageDocuments(ctx, r.result.Staged); err != nil {
		return err
	}
	docs := make([]documents.Document, len(r.result.Staged))
	for i, s := range r.result.Staged {
		docs[i] = s.Document
	}
	if _, err := session.ParseDocuments(ctx, docs); err != nil {
		return err
	}
	n, err := session.ChunkDocuments(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("chunking produced no chunks")
	}
	r.result.Chunks = n
	return nil
}

func (r *run) searchService(ctx context.Context) error {
	return r.session.CreateSearchService(ctx)
}

func (r *run) oauthIntegration(ctx context.Context) error {
	redirect, err := r.session.CreateOAuthIntegration(ctx, r.result.Outputs.WebExperienceUrl)
	if err != nil {
		return err
	}
	r.result.Redirect = redirect
	return r.session.Grant(ctx)
}

func (r *run) credentials(ctx context.Context) (err error) {
	r.creds, err = r.session.Credentials(ctx)
	return err
}

func (r *run) secret(ctx context.Context) error {
	return r.Handoff.WriteSecret(ctx, r.result.Outputs.SecretArn, handoff.Credentials{
		ClientID:     r.creds.ClientID,
		ClientSecret: r.creds.ClientSecret,
		RedirectURI:  r.result.Redirect,
	})
}

func (r *run) generalKnowledge(ctx context.Context) error {
	return r.Handoff.EnableGeneralKnowledge(ctx, r.result.Outputs.ApplicationId)
}

func (r *run) pluginRefresh(ctx context.Context) error {
	return r.Handoff.RefreshPlugin(ctx, r.result.Outputs.ApplicationId, r.result.Outputs.PluginID())
}

func (r *run) validate(ctx context.Context) (err error) {
	r.result.Validation, err = r.session.Validate(ctx)
	return err
}
