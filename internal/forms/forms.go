package forms

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// FieldType enumerates the value shapes a form field can collect.
type FieldType string

const (
	TypeText        FieldType = "text"
	TypeTextarea    FieldType = "textarea"
	TypeNumber      FieldType = "number"
	TypeCurrency    FieldType = "currency"
	TypeBoolean     FieldType = "boolean"
	TypeDate        FieldType = "date"
	TypeTime        FieldType = "time"
	TypeDateTime    FieldType = "datetime"
	TypeEmail       FieldType = "email"
	TypePhone       FieldType = "phone"
	TypeSelect      FieldType = "select"
	TypeMultiSelect FieldType = "multiselect"
	TypeAddress     FieldType = "address"
	TypeName        FieldType = "name"
)

var (
	ErrNotFound     = errors.New("form not found")
	ErrNoFields     = errors.New("form has no fields")
	ErrDuplicateKey = errors.New("duplicate field key")
	ErrBadKey       = errors.New("invalid field key")
	ErrBadType      = errors.New("unknown field type")
	ErrChoices      = errors.New("choices mismatch field type")
	ErrBadTone      = errors.New("unknown tone")
	ErrBadLanguage  = errors.New("unsupported language")
	ErrBadIndustry  = errors.New("unknown industry")
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FieldSpec describes one datum the conversation should collect.
type FieldSpec struct {
	Key         string    `json:"key" yaml:"key"`
	Label       string    `json:"label" yaml:"label"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Choices     []string  `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// FormConfig is the whole per-business configuration: who the agent is,
// how it speaks, and which fields it collects. Stored and shipped as one
// JSON document.
type FormConfig struct {
	ID                string      `json:"id" yaml:"id,omitempty"`
	Name              string      `json:"name" yaml:"name"`
	Industry          string      `json:"industry" yaml:"industry"`
	Persona           string      `json:"persona" yaml:"persona"`
	Tone              string      `json:"tone" yaml:"tone"`
	Language          string      `json:"language" yaml:"language"`
	Greeting          string      `json:"greeting" yaml:"greeting"`
	CompletionMessage string      `json:"completion_message" yaml:"completion_message"`
	VoiceID           string      `json:"voice_id" yaml:"voice_id"`
	Fields            []FieldSpec `json:"fields" yaml:"fields"`
	CreatedAt         time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time   `json:"updated_at" yaml:"-"`
}

// FieldTypes lists every supported field type.
func FieldTypes() []FieldType {
	return []FieldType{
		TypeText, TypeTextarea, TypeNumber, TypeCurrency, TypeBoolean,
		TypeDate, TypeTime, TypeDateTime, TypeEmail, TypePhone,
		TypeSelect, TypeMultiSelect, TypeAddress, TypeName,
	}
}

// Industries lists the template catalog verticals.
func Industries() []string {
	return []string{
		"legal", "healthcare", "real_estate", "home_services", "recruiting",
		"financial", "insurance", "education", "hospitality", "other",
	}
}

// Tones lists the supported conversational registers.
func Tones() []string {
	return []string{"professional", "friendly", "empathetic", "formal", "casual"}
}

// Languages lists supported conversation language codes.
func Languages() []string {
	return []string{"en", "es", "fr", "de", "it", "pt", "zh", "ja", "ko"}
}

func validFieldType(t FieldType) bool {
	for _, ft := range FieldTypes() {
		if t == ft {
			return true
		}
	}
	return false
}

func validMember(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// NeedsChoices reports whether the type requires a declared choice list.
func (t FieldType) NeedsChoices() bool {
	return t == TypeSelect || t == TypeMultiSelect
}

// Validate checks the configuration for use by the prompt and schema
// generators. A config that fails here must never reach a conversation.
func (c *FormConfig) Validate() error {
	if len(c.Fields) == 0 {
		return ErrNoFields
	}
	if c.Tone != "" && !validMember(c.Tone, Tones()) {
		return fmt.Errorf("tone %q: %w", c.Tone, ErrBadTone)
	}
	if c.Language != "" && !validMember(c.Language, Languages()) {
		return fmt.Errorf("language %q: %w", c.Language, ErrBadLanguage)
	}
	if c.Industry != "" && !validMember(c.Industry, Industries()) {
		return fmt.Errorf("industry %q: %w", c.Industry, ErrBadIndustry)
	}
	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if !keyPattern.MatchString(f.Key) {
			return fmt.Errorf("field %q: %w", f.Key, ErrBadKey)
		}
		if seen[f.Key] {
			return fmt.Errorf("field %q: %w", f.Key, ErrDuplicateKey)
		}
		seen[f.Key] = true
		if !validFieldType(f.Type) {
			return fmt.Errorf("field %q type %q: %w", f.Key, f.Type, ErrBadType)
		}
		if f.Type.NeedsChoices() && len(f.Choices) == 0 {
			return fmt.Errorf("field %q: %w: %s requires choices", f.Key, ErrChoices, f.Type)
		}
		if !f.Type.NeedsChoices() && len(f.Choices) > 0 {
			return fmt.Errorf("field %q: %w: %s takes no choices", f.Key, ErrChoices, f.Type)
		}
	}
	return nil
}

// Field returns the spec for key, if declared.
func (c *FormConfig) Field(key string) (FieldSpec, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// RequiredKeys returns the keys of required fields in declaration order.
func (c *FormConfig) RequiredKeys() []string {
	var keys []string
	for _, f := range c.Fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *FormConfig) Clone() FormConfig {
	out := *c
	out.Fields = make([]FieldSpec, len(c.Fields))
	for i, f := range c.Fields {
		out.Fields[i] = f
		if len(f.Choices) > 0 {
			out.Fields[i].Choices = append([]string(nil), f.Choices...)
		}
	}
	return out
}

// Version identifies one edition of a config; an update that bumps
// UpdatedAt produces a new version.
func (c *FormConfig) Version() string {
	return c.ID + "@" + c.UpdatedAt.UTC().Format(time.RFC3339Nano)
}
