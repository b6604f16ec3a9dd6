package modules

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliuyar1234/guidedq/internal/validation"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"
)

// ErrModuleNotFound is returned when no definition exists for a module id
var ErrModuleNotFound = errors.New("module not found")

// CacheTTL bounds how long an edited definition file can go unnoticed
const CacheTTL = 10 * time.Minute

// Question is one prompt inside a module
type Question struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Type  string `yaml:"type" json:"type"`
}

// Module is a questionnaire definition that tasks are started from
type Module struct {
	ID        string     `yaml:"-" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Question returns the question with the given id
func (m *Module) Question(id string) (*Question, bool) {
	for i := range m.Questions {
		if m.Questions[i].ID == id {
			return &m.Questions[i], true
		}
	}
	return nil, false
}

// Loader resolves module definitions by id
type Loader interface {
	Load(id string) (*Module, error)
}

// Catalog loads module definitions from <dir>/<id>.yaml and caches them
type Catalog struct {
	dir   string
	cache *expirable.LRU[string, *Module]
}

// NewCatalog creates a catalog rooted at dir holding up to size definitions
func NewCatalog(dir string, size int) *Catalog {
	if size <= 0 {
		size = 256
	}
	return &Catalog{
		dir:   filepath.Clean(strings.TrimSpace(dir)),
		cache: expirable.NewLRU[string, *Module](size, nil, CacheTTL),
	}
}

// Load returns the module definition for id
func (c *Catalog) Load(id string) (*Module, error) {
	if !validation.IsIdentifier(id) {
		return nil, ErrModuleNotFound
	}
	if m, ok := c.cache.Get(id); ok {
		return m, nil
	}

	data, err := os.ReadFile(filepath.Join(c.dir, id+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to read module %s: %w", id, err)
	}

	m, err := parseModule(id, data)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, m)
	return m, nil
}

func parseModule(id string, data []byte) (*Module, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("module %s: definition is empty", id)
	}
	var m Module
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("module %s: decode definition: %w", id, err)
	}
	m.ID = id
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		m.Title = id
	}
	seen := make(map[string]struct{}, len(m.Questions))
	for _, q := range m.Questions {
		if !validation.IsIdentifier(q.ID) {
			return nil, fmt.Errorf("module %s: invalid question id %q", id, q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("module %s: duplicate question id %q", id, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return &m, nil
}
