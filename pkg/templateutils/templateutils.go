package templateutils

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

var Funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		buf := new(bytes.Buffer)
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return "", err
		}
		return strings.TrimSpace(buf.String()), nil
	},

	// yamlScalar renders s as a YAML scalar, quoting only when needed.
	"yamlScalar": func(s string) (string, error) {
		b, err := yaml.Marshal(s)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(string(b), "\n"), nil
	},
}

// MustTemplate parses the named file from fsys with the hermetic sprig functions and Funcs. It panics on error
// and is meant for package-level templates loaded from an embed.FS.
func MustTemplate(fsys fs.FS, name string) *template.Template {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		panic(err)
	}
	t, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.HermeticTxtFuncMap()).
		Funcs(Funcs).
		Parse(string(content))
	if err != nil {
		panic(err)
	}
	return t
}

func ExecuteString(t *template.Template, data any) (string, error) {
	buf := new(strings.Builder)
	if err := t.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
