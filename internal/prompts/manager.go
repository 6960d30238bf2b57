package prompts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	errs "coffee-catalog/pkg/errors"
)

// Manager loads, compiles and renders prompt templates.
// Templates are compiled once at startup. Variants can be added as new
// files (e.g. notes_user@v2.txt.tmpl) without code changes.
type Manager struct {
	mu   sync.RWMutex
	tpls map[string]*template.Template
}

// NewManager parses all embedded templates. When overrideDir is non-empty,
// .txt.tmpl files found there are parsed afterwards and replace embedded
// templates with the same name, so prompts can be tuned without a rebuild.
func NewManager(overrideDir string) (*Manager, error) {
	m := &Manager{tpls: make(map[string]*template.Template)}

	if err := m.loadFrom(FS()); err != nil {
		return nil, errs.NewValidation("prompts.NewManager", "failed to load prompt templates", err)
	}
	if overrideDir != "" {
		if err := m.loadFrom(os.DirFS(overrideDir)); err != nil {
			return nil, errs.NewValidation("prompts.NewManager", fmt.Sprintf("failed to load prompt overrides from %s", overrideDir), err)
		}
	}
	return m, nil
}

func (m *Manager) loadFrom(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".txt.tmpl") {
			return nil
		}
		b, rerr := fs.ReadFile(fsys, p)
		if rerr != nil {
			return fmt.Errorf("read template %s: %w", p, rerr)
		}
		name := strings.TrimSuffix(filepath.Base(p), ".txt.tmpl")
		tpl, perr := template.New(name).Parse(string(b))
		if perr != nil {
			return fmt.Errorf("parse template %s: %w", p, perr)
		}
		m.tpls[name] = tpl
		return nil
	})
}

// Render executes a named template with data and returns the result string.
func (m *Manager) Render(name string, data any) (string, error) {
	m.mu.RLock()
	tpl, ok := m.tpls[name]
	m.mu.RUnlock()
	if !ok {
		return "", errs.NewValidation("prompts.Render", fmt.Sprintf("prompt template not found: %s", name), nil)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return sb.String(), nil
}
