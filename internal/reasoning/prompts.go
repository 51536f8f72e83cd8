package reasoning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is one versioned stage prompt
type Prompt struct {
	Name        string  `yaml:"-"`
	Version     string  `yaml:"version"`
	Temperature float32 `yaml:"temperature"`
	ModelHint   string  `yaml:"model_hint"`
	System      string  `yaml:"system"`
	Template    string  `yaml:"template"`

	tmpl *template.Template
}

// Catalog maps stage names to prompts
type Catalog struct {
	prompts map[apptype.StageName]*Prompt
}

type catalogFile struct {
	Prompts map[string]*Prompt `yaml:"prompts"`
}

// DefaultCatalog returns the built-in prompts
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPrompts)
}

// LoadCatalog reads a prompt catalog from a YAML file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML and compiles every template. Each pipeline stage
// must have a prompt.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	c := &Catalog{prompts: make(map[apptype.StageName]*Prompt, len(f.Prompts))}
	for name, p := range f.Prompts {
		if p == nil {
			continue
		}
		t, err := template.New(name).Option("missingkey=zero").Parse(p.Template)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
		p.Name = name
		p.tmpl = t
		c.prompts[apptype.StageName(name)] = p
	}
	for _, st := range apptype.Stages {
		if _, ok := c.prompts[st]; !ok {
			return nil, fmt.Errorf("prompt catalog has no entry for stage %q", st)
		}
	}
	return c, nil
}

// Get returns the prompt for stage
func (c *Catalog) Get(stage apptype.StageName) (*Prompt, bool) {
	p, ok := c.prompts[stage]
	return p, ok
}

type promptItem struct {
	ID         string
	Kind       string
	Provenance string
	Score      float64
	Attributes string
}

type promptPrior struct {
	Stage   string
	Status  string
	Payload string
}

type promptData struct {
	Query string
	Items []promptItem
	Prior []promptPrior
}

func newPromptData(rc apptype.RetrievalContext, prior []apptype.AgentStageResult) promptData {
	d := promptData{Query: rc.Query}
	for _, it := range rc.Items {
		d.Items = append(d.Items, promptItem{
			ID:         it.EntityID,
			Kind:       string(it.Kind),
			Provenance: string(it.Provenance),
			Score:      it.Score,
			Attributes: compactJSON(it.Payload),
		})
	}
	for _, r := range prior {
		d.Prior = append(d.Prior, promptPrior{Stage: string(r.Stage), Status: string(r.Status), Payload: compactJSON(r.Payload)})
	}
	return d
}

// Render executes the template
func (p *Prompt) Render(d promptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", p.Name, err)
	}
	return buf.String(), nil
}

func compactJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
