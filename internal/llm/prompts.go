package llm

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// PromptVars are the inputs every post-generation template can use.
type PromptVars struct {
	Topic     string
	Tone      string
	Context   []string
	MaxLength int
}

const defaultPostTemplate = `You are a social media writer posting on behalf of an account.
Write a single post about the following topic:
{{ .Topic }}
{{- if .Context }}

Background you may draw on:
{{- range .Context }}
- {{ . }}
{{- end }}
{{- end }}

The post must be:
- {{ .Tone }} in tone
- Under {{ .MaxLength }} characters
- Self-contained, no hashtag spam, no links unless asked`

// PromptManager holds named prompt templates.
type PromptManager struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewPromptManager() (*PromptManager, error) {
	m := &PromptManager{templates: make(map[string]*template.Template)}
	if err := m.Add("post_generation", defaultPostTemplate); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PromptManager) Add(name, text string) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}

	m.mu.Lock()
	m.templates[name] = tmpl
	m.mu.Unlock()
	return nil
}

func (m *PromptManager) Render(name string, vars PromptVars) (string, error) {
	m.mu.RLock()
	tmpl, ok := m.templates[name]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}

	if vars.Tone == "" {
		vars.Tone = "professional"
	}
	if vars.MaxLength == 0 {
		vars.MaxLength = 280
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	return sb.String(), nil
}
