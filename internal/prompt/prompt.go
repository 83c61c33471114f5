// Package prompt renders the dialogue system prompt from a form
// configuration. Everything the reply model knows about the business, the
// fields, and the register it should keep comes from here.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/avoncourt/voxform/internal/forms"
)

var toneDirectives = map[string]string{
	"professional": "Keep a professional, efficient register.",
	"friendly":     "Keep it warm and friendly.",
	"empathetic":   "Lead with empathy; acknowledge how the person feels before asking for details.",
	"formal":       "Use formal address and complete sentences.",
	"casual":       "Keep it relaxed and conversational.",
}

var languageDirectives = map[string]string{
	"en": "Respond only in English.",
	"es": "Responde únicamente en español.",
	"fr": "Réponds uniquement en français.",
	"de": "Antworte ausschließlich auf Deutsch.",
	"it": "Rispondi esclusivamente in italiano.",
	"pt": "Responda apenas em português.",
	"zh": "请只用中文回复。",
	"ja": "日本語のみで返答してください。",
	"ko": "한국어로만 답변하세요.",
}

// Build renders the system prompt for the dialogue model. It is a pure
// function of the config and the clock; the same inputs always produce the
// same prompt. A config that fails validation is rejected so a broken form
// can never reach a live conversation.
func Build(cfg *forms.FormConfig, now time.Time) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("prompt for form %q: %w", cfg.ID, err)
	}

	var b strings.Builder

	persona := strings.TrimSpace(cfg.Persona)
	if persona == "" {
		persona = fmt.Sprintf("You are a helpful intake assistant for %s.", orDefault(cfg.Name, "this business"))
	}
	b.WriteString(persona)
	b.WriteString("\n\n")

	b.WriteString("Your job is to collect the following information through natural conversation:\n")
	for _, f := range cfg.Fields {
		b.WriteString(fieldLine(f))
		b.WriteByte('\n')
	}
	b.WriteString("\n")

	b.WriteString("Conversation rules:\n")
	b.WriteString("- Ask for one piece of information at a time.\n")
	b.WriteString("- Briefly acknowledge what you understood before moving on.\n")
	b.WriteString("- If an answer does not fit the field, ask again politely and say what you need.\n")
	b.WriteString("- Never invent or assume values the person did not give you.\n")
	b.WriteString("- Optional fields may be skipped if the person declines them.\n")
	b.WriteString("- When every required field is collected, confirm the details and close.\n")

	if msg := strings.TrimSpace(cfg.CompletionMessage); msg != "" {
		b.WriteString("\nWhen the intake is complete, close with this message:\n")
		b.WriteString(msg)
		b.WriteByte('\n')
	}

	if tone, ok := toneDirectives[cfg.Tone]; ok {
		b.WriteString("\n")
		b.WriteString(tone)
		b.WriteByte('\n')
	}

	lang, ok := languageDirectives[cfg.Language]
	if !ok {
		lang = languageDirectives["en"]
	}
	b.WriteString(lang)
	b.WriteByte('\n')

	b.WriteString(fmt.Sprintf("\nToday's date is %s.\n", now.UTC().Format("Monday, January 2, 2006")))

	return b.String(), nil
}

func fieldLine(f forms.FieldSpec) string {
	var sb strings.Builder
	sb.WriteString("- ")
	sb.WriteString(f.Label)
	sb.WriteString(" (")
	sb.WriteString(string(f.Type))
	if f.Required {
		sb.WriteString(", required")
	} else {
		sb.WriteString(", optional")
	}
	sb.WriteString(")")
	if len(f.Choices) > 0 {
		sb.WriteString(": one of ")
		sb.WriteString(strings.Join(f.Choices, ", "))
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		if len(f.Choices) > 0 {
			sb.WriteString("; ")
		} else {
			sb.WriteString(": ")
		}
		sb.WriteString(d)
	}
	return sb.String()
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
