package util

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// Projection copies the result of a JMESPath expression into a document
// field. It is built from a "name=path" spec.
type Projection struct {
	Name string
	Path string
	expr *jmespath.JMESPath
}

// ParseExtractSpec parses "name=path" into (name, path).
func ParseExtractSpec(spec string) (string, string, error) {
	i := strings.Index(spec, "=")
	if i <= 0 || i == len(spec)-1 {
		return "", "", fmt.Errorf("invalid extract spec %q; expected name=path", spec)
	}
	name := strings.TrimSpace(spec[:i])
	path := strings.TrimSpace(spec[i+1:])
	if name == "" || path == "" {
		return "", "", fmt.Errorf("invalid extract spec %q; empty name or path", spec)
	}
	return name, path, nil
}

// NewProjection compiles a single "name=path" spec.
func NewProjection(spec string) (Projection, error) {
	name, path, err := ParseExtractSpec(spec)
	if err != nil {
		return Projection{}, err
	}
	if strings.HasPrefix(name, "@") {
		return Projection{}, fmt.Errorf("invalid extract spec %q; %s is a reserved field", spec, name)
	}
	expr, err := jmespath.Compile(path)
	if err != nil {
		return Projection{}, fmt.Errorf("compile jmespath %q: %w", path, err)
	}
	return Projection{Name: name, Path: path, expr: expr}, nil
}

// ParseProjections compiles every spec, failing on the first invalid one.
func ParseProjections(specs []string) ([]Projection, error) {
	out := make([]Projection, 0, len(specs))
	for _, s := range specs {
		p, err := NewProjection(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Apply evaluates the projection against data. Empty results (nil, "", empty
// arrays and objects) are reported as not found.
func (p Projection) Apply(data any) (any, bool, error) {
	if p.expr == nil || data == nil {
		return nil, false, nil
	}
	res, err := p.expr.Search(data)
	if err != nil {
		return nil, false, fmt.Errorf("jmespath search %q failed: %w", p.Path, err)
	}
	if isEmpty(res) {
		return nil, false, nil
	}
	return res, true, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
