package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateData holds common data passed to all templates
type TemplateData struct {
	Title           string
	UserID          uuid.UUID
	IsAuthenticated bool
	CSRFToken       string
	Next            string
	Messages        []string
	Data            map[string]any
}

var pages = []string{
	"signup.html",
	"login.html",
	"home.html",
	"project.html",
	"task.html",
	"discussion.html",
}

// templates is the global template cache
var templates map[string]*template.Template

// InitTemplates parses and caches all page templates
func InitTemplates() error {
	templates = make(map[string]*template.Template, len(pages))

	for _, page := range pages {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return err
		}
		templates[page] = tmpl
	}

	log.Info().Int("count", len(templates)).Msg("Templates initialized")
	return nil
}

// RenderTemplate renders a template with the given data
func RenderTemplate(w http.ResponseWriter, r *http.Request, name string, data *TemplateData) {
	tmpl, ok := templates[name]
	if !ok {
		log.Error().Str("template", name).Msg("Template not found")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}
