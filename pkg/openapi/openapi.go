// Package openapi renders the OpenAPI document that lets the chat plugin call the Cortex Search query endpoint.
package openapi

import (
	"embed"
	"fmt"
	"regexp"

	"github.com/klothoplatform/cortexrag/pkg/templateutils"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml.tmpl
var files embed.FS

var cortexSearchTmpl = templateutils.MustTemplate(files, "templates/cortex_search.yaml.tmpl")

const DefaultDescription = "Submit a query to the Cortex Search service in order to answer questions specifically about " +
	"Pumps or other mechanical parts or repair or maintenance information"

type SearchAPI struct {
	Account     string
	Database    string
	Schema      string
	Service     string
	Role        string
	Description string
	Limit       int
}

// Defaults returns the parameters for the pump-manual search service in the given account.
func Defaults(account string) SearchAPI {
	return SearchAPI{
		Account:     account,
		Database:    "PUMP_DB",
		Schema:      "PUBLIC",
		Service:     "PUMP_SEARCH_SERVICE",
		Role:        "PUBLIC",
		Description: DefaultDescription,
		Limit:       5,
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
var accountPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func (api SearchAPI) Validate() error {
	var errs error
	if !accountPattern.MatchString(api.Account) {
		errs = multierr.Append(errs, fmt.Errorf("invalid account %q", api.Account))
	}
	for name, v := range map[string]string{"database": api.Database, "schema": api.Schema, "service": api.Service, "role": api.Role} {
		if !identifierPattern.MatchString(v) {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s identifier %q", name, v))
		}
	}
	if api.Limit <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("limit must be positive, got %d", api.Limit))
	}
	return errs
}

// Render returns the OpenAPI 3.0.0 document as YAML. The output is checked to parse before it is returned.
func (api SearchAPI) Render() (string, error) {
	if err := api.Validate(); err != nil {
		return "", err
	}
	doc, err := templateutils.ExecuteString(cortexSearchTmpl, api)
	if err != nil {
		return "", fmt.Errorf("could not render openapi schema: %w", err)
	}
	var check map[string]any
	if err := yaml.Unmarshal([]byte(doc), &check); err != nil {
		return "", fmt.Errorf("rendered openapi schema is not valid yaml: %w", err)
	}
	return doc, nil
}
