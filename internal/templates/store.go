package templates

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Scenario keys a template to the decision it announces
type Scenario string

const (
	ScenarioApproval  Scenario = "approval"
	ScenarioRejection Scenario = "rejection"
	ScenarioMoreInfo  Scenario = "more_info"
)

// Template is a reusable message body. Read-only to the workflow engine.
type Template struct {
	ID       string   `json:"id" db:"id"`
	Scenario Scenario `json:"scenario" db:"scenario"`
	Content  string   `json:"content" db:"content"`
}

// DefaultTemplates seed the store on first run
var DefaultTemplates = []Template{
	{
		ID:       "approval_default",
		Scenario: ScenarioApproval,
		Content:  "Congratulations! Your verification request has been approved. Your account now carries verified status.",
	},
	{
		ID:       "rejection_default",
		Scenario: ScenarioRejection,
		Content:  "We reviewed your verification request and were unable to approve it. Please review the details below.",
	},
	{
		ID:       "more_info_default",
		Scenario: ScenarioMoreInfo,
		Content:  "We need additional information to complete your verification. Please provide the requested details.",
	},
}

// Store serves message templates from PostgreSQL
type Store struct {
	db *sqlx.DB
}

// NewStore creates a template store and seeds the defaults
func NewStore(db *sqlx.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.seed(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the template, or nil when the ID is unknown
func (s *Store) Get(ctx context.Context, id string) (*Template, error) {
	var tmpl Template
	err := s.db.GetContext(ctx, &tmpl,
		`SELECT id, scenario, content FROM message_templates WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tmpl, nil
}

// GetByScenario returns all templates for one scenario
func (s *Store) GetByScenario(ctx context.Context, scenario Scenario) ([]Template, error) {
	var tmpls []Template
	err := s.db.SelectContext(ctx, &tmpls,
		`SELECT id, scenario, content FROM message_templates WHERE scenario = $1 ORDER BY id`, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return tmpls, nil
}

// TemplateContent implements the engine's template lookup. A missing template
// yields "" so the engine falls back to the caller-supplied content.
func (s *Store) TemplateContent(ctx context.Context, id string) (string, error) {
	tmpl, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if tmpl == nil {
		return "", nil
	}
	return tmpl.Content, nil
}

func (s *Store) seed(ctx context.Context) error {
	for _, tmpl := range DefaultTemplates {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO message_templates (id, scenario, content)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, tmpl.ID, tmpl.Scenario, tmpl.Content)
		if err != nil {
			return fmt.Errorf("failed to seed template %s: %w", tmpl.ID, err)
		}
	}
	return nil
}

// StaticStore serves templates from memory, for tests and local demos
type StaticStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewStaticStore creates a store preloaded with the given templates; with no
// arguments it carries the defaults.
func NewStaticStore(tmpls ...Template) *StaticStore {
	if len(tmpls) == 0 {
		tmpls = DefaultTemplates
	}
	s := &StaticStore{templates: make(map[string]Template, len(tmpls))}
	for _, tmpl := range tmpls {
		s.templates[tmpl.ID] = tmpl
	}
	return s
}

// TemplateContent returns the template body, or "" when unknown
func (s *StaticStore) TemplateContent(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return "", nil
	}
	return tmpl.Content, nil
}
