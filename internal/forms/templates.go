package forms

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// ErrNoTemplate is returned when an industry has no starter template.
var ErrNoTemplate = errors.New("no template for industry")

var (
	templateOnce sync.Once
	templateCat  map[string]FormConfig
	templateErr  error
)

func loadTemplates() (map[string]FormConfig, error) {
	templateOnce.Do(func() {
		entries, err := templateFS.ReadDir("templates")
		if err != nil {
			templateErr = fmt.Errorf("read template dir: %w", err)
			return
		}
		cat := make(map[string]FormConfig, len(entries))
		for _, e := range entries {
			raw, err := templateFS.ReadFile("templates/" + e.Name())
			if err != nil {
				templateErr = fmt.Errorf("read template %s: %w", e.Name(), err)
				return
			}
			var cfg FormConfig
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				templateErr = fmt.Errorf("parse template %s: %w", e.Name(), err)
				return
			}
			if err := cfg.Validate(); err != nil {
				templateErr = fmt.Errorf("template %s: %w", e.Name(), err)
				return
			}
			cat[cfg.Industry] = cfg
		}
		templateCat = cat
	})
	return templateCat, templateErr
}

// TemplateSummary describes one catalog entry for listings.
type TemplateSummary struct {
	Industry   string `json:"industry"`
	Name       string `json:"name"`
	Tone       string `json:"tone"`
	FieldCount int    `json:"field_count"`
}

// TemplateSummaries lists the catalog sorted by industry.
func TemplateSummaries() ([]TemplateSummary, error) {
	cat, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	out := make([]TemplateSummary, 0, len(cat))
	for _, cfg := range cat {
		out = append(out, TemplateSummary{
			Industry:   cfg.Industry,
			Name:       cfg.Name,
			Tone:       cfg.Tone,
			FieldCount: len(cfg.Fields),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Industry < out[j].Industry })
	return out, nil
}

// FromTemplate instantiates the industry's starter template as a fresh
// config, substituting the business name into the texts.
func FromTemplate(industry, businessName string) (FormConfig, error) {
	cat, err := loadTemplates()
	if err != nil {
		return FormConfig{}, err
	}
	tpl, ok := cat[industry]
	if !ok {
		return FormConfig{}, fmt.Errorf("%q: %w", industry, ErrNoTemplate)
	}
	if businessName == "" {
		businessName = "Your Business"
	}
	cfg := tpl.Clone()
	cfg.ID = uuid.NewString()
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.Name = substituteBusiness(cfg.Name, businessName)
	cfg.Persona = substituteBusiness(cfg.Persona, businessName)
	cfg.Greeting = substituteBusiness(cfg.Greeting, businessName)
	cfg.CompletionMessage = substituteBusiness(cfg.CompletionMessage, businessName)
	return cfg, nil
}

func substituteBusiness(s, name string) string {
	return strings.ReplaceAll(s, "{business_name}", name)
}
