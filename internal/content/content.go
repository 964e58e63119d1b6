// Package content holds the user-facing copy: menu labels, info pages and
// the submission form. The built-in copy is embedded; a YAML file with the
// same shape can replace it.
package content

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed content.yaml
var defaultYAML []byte

type Menu struct {
	Info    string `yaml:"info"`
	HowTo   string `yaml:"how_to"`
	Gallery string `yaml:"gallery"`
	Submit  string `yaml:"submit"`
	Leave   string `yaml:"leave"`
}

type Gallery struct {
	Heading string `yaml:"heading"`
	Empty   string `yaml:"empty"`
	// Banner may reference {package}, {author} and {budget}.
	Banner string `yaml:"banner"`
	Ended  string `yaml:"ended"`
}

// Question is one prompt of the submission form. An empty Heading keeps
// the prompt in the group of the previous question.
type Question struct {
	Field       string `yaml:"field"`
	Heading     string `yaml:"heading"`
	Placeholder string `yaml:"placeholder"`
	Required    bool   `yaml:"required"`
}

type Submit struct {
	TypeQuestion string     `yaml:"type_question"`
	Types        []string   `yaml:"types"`
	Thanks       string     `yaml:"thanks"`
	Questions    []Question `yaml:"questions"`
}

type Errors struct {
	Store string `yaml:"store"`
	Relay string `yaml:"relay"`
	Retry string `yaml:"retry"`
	Back  string `yaml:"back"`

	// NotFound may reference {package}.
	NotFound string `yaml:"not_found"`
}

type Content struct {
	Title   string  `yaml:"title"`
	Welcome string  `yaml:"welcome"`
	Art     string  `yaml:"art"`
	Menu    Menu    `yaml:"menu"`
	Info    string  `yaml:"info"`
	HowTo   string  `yaml:"how_to"`
	Gallery Gallery `yaml:"gallery"`
	Submit  Submit  `yaml:"submit"`
	Errors  Errors  `yaml:"errors"`
}

// Parse decodes and validates a content document.
func Parse(data []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a content file from disk.
func Load(path string) (*Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return Parse(data)
}

var (
	defaultOnce    sync.Once
	defaultContent *Content
)

// Default returns the embedded copy.
func Default() *Content {
	defaultOnce.Do(func() {
		c, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded content: %v", err))
		}
		defaultContent = c
	})
	return defaultContent
}

func (c *Content) validate() error {
	if len(c.Submit.Types) == 0 {
		return fmt.Errorf("content: submit.types must not be empty")
	}
	if len(c.Submit.Questions) == 0 {
		return fmt.Errorf("content: submit.questions must not be empty")
	}
	for i, q := range c.Submit.Questions {
		if q.Field == "" {
			return fmt.Errorf("content: question %d has no field", i)
		}
	}
	return nil
}

// Lines returns text with line breaks normalized to CRLF and trailing
// whitespace trimmed.
func Lines(text string) string {
	text = strings.TrimRight(text, " \n")
	return strings.ReplaceAll(text, "\n", "\r\n")
}

// Expand substitutes {key} placeholders.
func Expand(text string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
