package forms

import (
	"errors"
	"strings"
	"testing"
)

func TestTemplateCatalogCoversEveryIndustry(t *testing.T) {
	summaries, err := TemplateSummaries()
	if err != nil {
		t.Fatalf("TemplateSummaries() error = %v", err)
	}
	byIndustry := make(map[string]TemplateSummary, len(summaries))
	for _, s := range summaries {
		byIndustry[s.Industry] = s
	}
	for _, industry := range Industries() {
		s, ok := byIndustry[industry]
		if !ok {
			t.Fatalf("no template for industry %q", industry)
		}
		if s.FieldCount == 0 {
			t.Fatalf("template %q has zero fields", industry)
		}
	}
}

func TestFromTemplateSubstitutesBusinessName(t *testing.T) {
	cfg, err := FromTemplate("insurance", "Acme Mutual")
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	if strings.Contains(cfg.Persona+cfg.Greeting+cfg.CompletionMessage+cfg.Name, "{business_name}") {
		t.Fatalf("placeholder left unsubstituted")
	}
	if !strings.Contains(cfg.Greeting, "Acme Mutual") {
		t.Fatalf("greeting %q missing business name", cfg.Greeting)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("instantiated template invalid: %v", err)
	}
}

func TestFromTemplateAssignsFreshIdentity(t *testing.T) {
	a, err := FromTemplate("legal", "")
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	b, err := FromTemplate("legal", "")
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("template instances share id: %q vs %q", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not set")
	}
}

func TestFromTemplateUnknownIndustry(t *testing.T) {
	_, err := FromTemplate("asteroid_mining", "")
	if !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("FromTemplate() error = %v, want ErrNoTemplate", err)
	}
}
