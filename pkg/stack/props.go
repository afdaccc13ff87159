package stack

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

type Props struct {
	WarehouseAccount          string
	WarehouseUser             string
	IdentityCenterInstanceArn string
	Names                     Names
}

// Names are the display names and prefixes the stack uses. Zero fields take their defaults.
type Names struct {
	BucketPrefix    string
	Application     string
	Plugin          string
	WebTitle        string
	WebSubtitle     string
	WelcomeMessage  string
	SetupCommand    string
	TemplateSummary string
}

var DefaultNames = Names{
	BucketPrefix:    "snowflake-qbusiness-docs-auto",
	Application:     "Snowflake-Cortex-RAG-App",
	Plugin:          "cortex-pump",
	WebTitle:        "Snowflake Cortex RAG Assistant",
	WebSubtitle:     "Ask questions about pump maintenance and mechanical parts",
	WelcomeMessage:  "Welcome! I can help you find information about pump maintenance, mechanical parts, and repair procedures using Snowflake Cortex Search.",
	SetupCommand:    "cortexrag setup",
	TemplateSummary: "Snowflake Cortex + Amazon Q Business RAG integration",
}

func (n Names) withDefaults() Names {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&n.BucketPrefix, DefaultNames.BucketPrefix)
	def(&n.Application, DefaultNames.Application)
	def(&n.Plugin, DefaultNames.Plugin)
	def(&n.WebTitle, DefaultNames.WebTitle)
	def(&n.WebSubtitle, DefaultNames.WebSubtitle)
	def(&n.WelcomeMessage, DefaultNames.WelcomeMessage)
	def(&n.SetupCommand, DefaultNames.SetupCommand)
	def(&n.TemplateSummary, DefaultNames.TemplateSummary)
	return n
}

var (
	identityCenterArnPattern = regexp.MustCompile(`^arn:aws[a-z-]*:sso:::instance/(sso)?ins-[a-zA-Z0-9-.]{16}$`)
	bucketPrefixPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,33}$`)
)

func (p Props) Validate() error {
	var errs error
	if strings.TrimSpace(p.WarehouseAccount) == "" {
		errs = multierr.Append(errs, fmt.Errorf("warehouse account is required"))
	}
	if strings.TrimSpace(p.WarehouseUser) == "" {
		errs = multierr.Append(errs, fmt.Errorf("warehouse user is required"))
	}
	switch {
	case strings.TrimSpace(p.IdentityCenterInstanceArn) == "":
		errs = multierr.Append(errs, fmt.Errorf("identity center instance ARN is required"))
	case !identityCenterArnPattern.MatchString(p.IdentityCenterInstanceArn):
		errs = multierr.Append(errs, fmt.Errorf("invalid identity center instance ARN %q", p.IdentityCenterInstanceArn))
	}
	if p.Names.BucketPrefix != "" && !bucketPrefixPattern.MatchString(p.Names.BucketPrefix) {
		errs = multierr.Append(errs, fmt.Errorf("invalid bucket prefix %q", p.Names.BucketPrefix))
	}
	return errs
}
