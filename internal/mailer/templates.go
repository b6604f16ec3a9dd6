package mailer

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

// ErrUnknownTemplate is returned when no template exists for an id
var ErrUnknownTemplate = errors.New("unknown email template")

// Message is a rendered email
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Renderer renders the embedded email templates. Each template file defines
// a "subject" and a "body" block.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses all embedded templates
func NewRenderer() (*Renderer, error) {
	files, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("failed to list email templates: %w", err)
	}

	r := &Renderer{templates: make(map[string]*template.Template, len(files))}
	for _, f := range files {
		id := strings.TrimSuffix(f.Name(), path.Ext(f.Name()))
		t, err := template.New(id).Option("missingkey=error").ParseFS(templateFS, path.Join("templates", f.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", id, err)
		}
		if t.Lookup("subject") == nil || t.Lookup("body") == nil {
			return nil, fmt.Errorf("email template %s must define subject and body", id)
		}
		r.templates[id] = t
	}
	return r, nil
}

// Render produces the message for templateID
func (r *Renderer) Render(templateID, from string, to []string, data map[string]any) (Message, error) {
	t, ok := r.templates[templateID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}

	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s subject: %w", templateID, err)
	}
	if err := t.ExecuteTemplate(&body, "body", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s body: %w", templateID, err)
	}

	return Message{
		From:    from,
		To:      to,
		Subject: strings.Join(strings.Fields(subject.String()), " "),
		Text:    strings.TrimSpace(body.String()) + "\n",
	}, nil
}
