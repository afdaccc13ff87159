package construct

import (
	"regexp"
	"strings"
)

// Intrinsic values render as CloudFormation intrinsic functions. Each reports the logical names it refers to
// so that the graph can derive creation-order edges from them.
type Intrinsic interface {
	MarshalYAML() (any, error)
	refs() []string
}

type (
	// Ref is `{"Ref": Name}`. Name is a logical name or a pseudo parameter such as AWS::Region.
	Ref struct {
		Name string
	}

	// GetAtt is `{"Fn::GetAtt": [Name, Attribute]}`.
	GetAtt struct {
		Name      string
		Attribute string
	}

	// Sub is `{"Fn::Sub": Template}`. `${Name}` and `${Name.Attribute}` placeholders are references.
	Sub string

	// Join is `{"Fn::Join": [Delimiter, Values]}`.
	Join struct {
		Delimiter string
		Values    []any
	}
)

// RefTo references a resource by id.
func RefTo(id ResourceId) Ref {
	return Ref{Name: id.Name}
}

func AttOf(id ResourceId, attribute string) GetAtt {
	return GetAtt{Name: id.Name, Attribute: attribute}
}

func (r Ref) MarshalYAML() (any, error) {
	return map[string]any{"Ref": r.Name}, nil
}

func (r Ref) refs() []string {
	if isPseudo(r.Name) {
		return nil
	}
	return []string{r.Name}
}

func (g GetAtt) MarshalYAML() (any, error) {
	return map[string]any{"Fn::GetAtt": []string{g.Name, g.Attribute}}, nil
}

func (g GetAtt) refs() []string {
	return []string{g.Name}
}

var subPlaceholder = regexp.MustCompile(`\$\{([^!}][^}]*)\}`)

func (s Sub) MarshalYAML() (any, error) {
	return map[string]any{"Fn::Sub": string(s)}, nil
}

func (s Sub) refs() []string {
	var names []string
	for _, m := range subPlaceholder.FindAllStringSubmatch(string(s), -1) {
		name, _, _ := strings.Cut(m[1], ".")
		if isPseudo(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (j Join) MarshalYAML() (any, error) {
	return map[string]any{"Fn::Join": []any{j.Delimiter, j.Values}}, nil
}

func (j Join) refs() []string {
	var names []string
	for _, v := range j.Values {
		names = append(names, referencedNames(v)...)
	}
	return names
}

func isPseudo(name string) bool {
	return strings.HasPrefix(name, "AWS::")
}

// referencedNames walks v (maps, slices and intrinsics) and collects every logical name it references.
func referencedNames(v any) []string {
	switch v := v.(type) {
	case Intrinsic:
		return v.refs()
	case Properties:
		return referencedNames(map[string]any(v))
	case map[string]any:
		var names []string
		for _, val := range v {
			names = append(names, referencedNames(val)...)
		}
		return names
	case []any:
		var names []string
		for _, val := range v {
			names = append(names, referencedNames(val)...)
		}
		return names
	case []map[string]any:
		var names []string
		for _, val := range v {
			names = append(names, referencedNames(val)...)
		}
		return names
	}
	return nil
}
