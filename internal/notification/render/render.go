// Package render turns a template kind plus data into subject, text and
// HTML bodies. Rendering is pure: the same input always yields the same
// output and nothing outside the catalog is read.
package render

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"

	"agentgate/internal/notification/models"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Message is what callers hand to the dispatcher: a kind and its data.
type Message struct {
	Kind models.TemplateKind
	Data map[string]any
}

// Rendered is the output of a render.
type Rendered struct {
	Subject  string
	TextBody string
	HTMLBody string
}

type entry struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

type Renderer struct {
	templates map[models.TemplateKind]compiled
	markdown  goldmark.Markdown
}

// New compiles the embedded catalog.
func New() (*Renderer, error) {
	return NewFromYAML(defaultCatalog)
}

// NewFromYAML compiles a catalog keyed by template kind.
func NewFromYAML(catalog []byte) (*Renderer, error) {
	var entries map[string]entry
	if err := yaml.Unmarshal(catalog, &entries); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("template catalog is empty")
	}

	r := &Renderer{
		templates: make(map[models.TemplateKind]compiled, len(entries)),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Linkify)),
	}
	for kind, e := range entries {
		subject, err := template.New(kind + ".subject").Option("missingkey=error").Parse(e.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse %s subject: %w", kind, err)
		}
		body, err := template.New(kind + ".body").Option("missingkey=error").Parse(e.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
		r.templates[models.TemplateKind(kind)] = compiled{subject: subject, body: body}
	}
	return r, nil
}

// Kinds lists the catalog entries in sorted order.
func (r *Renderer) Kinds() []models.TemplateKind {
	kinds := make([]models.TemplateKind, 0, len(r.templates))
	for k := range r.templates {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Renderer) Render(msg Message) (Rendered, error) {
	tmpl, ok := r.templates[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown template kind %q", msg.Kind)
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, msg.Data); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", msg.Kind, err)
	}
	if err := tmpl.body.Execute(&text, msg.Data); err != nil {
		return Rendered{}, fmt.Errorf("render %s body: %w", msg.Kind, err)
	}
	if err := r.markdown.Convert(text.Bytes(), &html); err != nil {
		return Rendered{}, fmt.Errorf("render %s html: %w", msg.Kind, err)
	}

	return Rendered{
		Subject:  subject.String(),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}
