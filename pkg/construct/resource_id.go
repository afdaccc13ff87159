package construct

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

// ResourceId identifies a resource in a template by its CloudFormation type and logical name.
type ResourceId struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

var (
	resourceTypePattern = regexp.MustCompile(`^[A-Za-z0-9]+(::[A-Za-z0-9]+){2}$`)
	resourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// String formats the id as `Type:Name`, eg `AWS::S3::Bucket:DocumentsBucket`.
func (id ResourceId) String() string {
	return id.Type + ":" + id.Name
}

func (id ResourceId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ResourceId) UnmarshalText(data []byte) error {
	return id.Parse(string(data))
}

// Parse is the inverse of String. The name is everything after the last single colon.
func (id *ResourceId) Parse(s string) error {
	i := strings.LastIndex(s, ":")
	if i <= 0 || s[i-1] == ':' {
		return fmt.Errorf("invalid resource id '%s': expected Type:Name", s)
	}
	id.Type = s[:i]
	id.Name = s[i+1:]
	return id.Validate()
}

func (id ResourceId) Validate() error {
	var err error
	if !resourceTypePattern.MatchString(id.Type) {
		err = multierr.Append(err, fmt.Errorf("invalid type '%s' (must match %s)", id.Type, resourceTypePattern))
	}
	if !resourceNamePattern.MatchString(id.Name) {
		err = multierr.Append(err, fmt.Errorf("invalid name '%s' (must match %s)", id.Name, resourceNamePattern))
	}
	if err != nil {
		return fmt.Errorf("invalid resource id '%s': %w", id, err)
	}
	return nil
}

func ParseId(s string) (ResourceId, error) {
	var id ResourceId
	err := id.Parse(s)
	return id, err
}

// ResourceIdLess orders by logical name, then type. Logical names are unique within a template.
func ResourceIdLess(a, b ResourceId) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Type < b.Type
}

type SortedIds []ResourceId

func (s SortedIds) Len() int           { return len(s) }
func (s SortedIds) Less(i, j int) bool { return ResourceIdLess(s[i], s[j]) }
func (s SortedIds) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
