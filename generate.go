package linerpc

import (
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/invopop/jsonschema"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"heading": heading,
	"schema":  schemaJSON,
	"inc":     func(n int) int { return n + 1 },
}).ParseFS(templateFS, "templates/*.tmpl"))

// ServerDoc is a read-only snapshot of a server's method tree.
type ServerDoc struct {
	Name    string     `json:"name"`
	Label   string     `json:"label"`
	Version string     `json:"version"`
	Root    *RouterDoc `json:"root"`
}

// RouterDoc describes one namespace. Methods and child namespaces are listed
// in registration order.
type RouterDoc struct {
	Prefix     string          `json:"prefix"`
	Path       string          `json:"path"`
	Label      string          `json:"label,omitempty"`
	Middleware []MiddlewareDoc `json:"middleware,omitempty"`
	Methods    []MethodDoc     `json:"methods,omitempty"`
	Routers    []*RouterDoc    `json:"routers,omitempty"`

	depth int
}

// Depth is the nesting level of the namespace; the root is 1.
func (r *RouterDoc) Depth() int { return r.depth }

// MethodDoc describes one registered method. Path is its full dotted name.
type MethodDoc struct {
	Name   string     `json:"name"`
	Path   string     `json:"path"`
	Label  string     `json:"label,omitempty"`
	Doc    string     `json:"doc,omitempty"`
	Params []ParamDoc `json:"params"`
	Result *TypeDoc   `json:"result,omitzero"`
}

// ParamDoc describes one parameter. Kind is "primitive" or "structured".
type ParamDoc struct {
	Name     string             `json:"name"`
	Kind     string             `json:"kind"`
	Type     string             `json:"type"`
	Required bool               `json:"required"`
	Doc      string             `json:"doc,omitempty"`
	Default  jsontext.Value     `json:"default,omitzero"`
	Schema   *jsonschema.Schema `json:"schema,omitzero"`
}

// TypeDoc names a result type and carries its JSON schema.
type TypeDoc struct {
	Name   string             `json:"name"`
	Doc    string             `json:"doc,omitempty"`
	Schema *jsonschema.Schema `json:"schema,omitzero"`
}

// MiddlewareDoc describes middleware attached to a namespace.
type MiddlewareDoc struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Doc   string `json:"doc,omitempty"`
}

// Describe walks the method tree. It does not modify the tree, and stream
// parameters are left out since peers never send them.
func (s *Server) Describe() *ServerDoc {
	return &ServerDoc{
		Name:    s.name,
		Label:   s.options.Label,
		Version: s.options.Version,
		Root:    describeRouter(s.root, "", 1),
	}
}

func describeRouter(r *Router, path string, depth int) *RouterDoc {
	doc := &RouterDoc{
		Prefix: r.prefix,
		Path:   path,
		Label:  r.label,
		depth:  depth,
	}
	for _, l := range r.layers {
		doc.Middleware = append(doc.Middleware, MiddlewareDoc{Name: l.Name, Label: l.Label, Doc: l.Doc})
	}
	for _, name := range r.methodOrder {
		entry := r.methods[name]
		doc.Methods = append(doc.Methods, describeMethod(name, joinPath(path, name), entry))
	}
	for _, prefix := range r.childOrder {
		doc.Routers = append(doc.Routers, describeRouter(r.children[prefix], joinPath(path, prefix), depth+1))
	}
	return doc
}

func describeMethod(name, path string, entry methodEntry) MethodDoc {
	m := entry.method
	doc := MethodDoc{
		Name:   name,
		Path:   path,
		Label:  entry.label,
		Doc:    m.Doc,
		Params: []ParamDoc{},
	}
	for _, p := range m.Params {
		if p.Kind == KindStream {
			continue
		}
		doc.Params = append(doc.Params, ParamDoc{
			Name:     p.Name,
			Kind:     p.Kind.String(),
			Type:     p.Type,
			Required: p.Required(),
			Doc:      p.Doc,
			Default:  p.Default,
			Schema:   p.Schema,
		})
	}
	if m.Result != nil {
		doc.Result = &TypeDoc{Name: m.Result.Name, Doc: m.Result.Doc, Schema: m.Result.Schema}
	}
	return doc
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// JSON returns the indented JSON form of the documentation.
func (d *ServerDoc) JSON() ([]byte, error) {
	return json.Marshal(d, jsontext.WithIndent("  "))
}

// Method finds the documentation of a method by its dotted path.
func (d *ServerDoc) Method(path string) (MethodDoc, bool) {
	var walk func(r *RouterDoc) (MethodDoc, bool)
	walk = func(r *RouterDoc) (MethodDoc, bool) {
		for _, m := range r.Methods {
			if m.Path == path {
				return m, true
			}
		}
		for _, child := range r.Routers {
			if m, ok := walk(child); ok {
				return m, true
			}
		}
		return MethodDoc{}, false
	}
	return walk(d.Root)
}

// RenderMarkdown writes a Markdown reference of doc to w.
func RenderMarkdown(w io.Writer, doc *ServerDoc) error {
	if err := templates.ExecuteTemplate(w, "docs.md.tmpl", doc); err != nil {
		return fmt.Errorf("render docs: %w", err)
	}
	return nil
}

func heading(level int) string {
	return strings.Repeat("#", min(level, 6))
}

func schemaJSON(s *jsonschema.Schema) (string, error) {
	data, err := json.Marshal(s, jsontext.WithIndent("  "))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
