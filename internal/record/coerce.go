package record

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/avoncourt/voxform/internal/forms"
)

// Coerce normalizes a raw extracted value into the canonical shape for the
// field's type. Extraction models are loose about types, so string forms
// of numbers, booleans, dates and choice lists are accepted and tightened
// here. A value that cannot be coerced is an error and the caller drops
// the operation.
func Coerce(spec forms.FieldSpec, v any) (any, error) {
	switch spec.Type {
	case forms.TypeText, forms.TypeTextarea, forms.TypeAddress, forms.TypeName:
		return nonEmptyString(v)
	case forms.TypeNumber, forms.TypeCurrency:
		return coerceNumber(v)
	case forms.TypeBoolean:
		return coerceBool(v)
	case forms.TypeDate:
		return coerceDate(v)
	case forms.TypeTime:
		return coerceTime(v)
	case forms.TypeDateTime:
		return coerceDateTime(v)
	case forms.TypeEmail:
		return coerceEmail(v)
	case forms.TypePhone:
		return coercePhone(v)
	case forms.TypeSelect:
		return coerceChoice(v, spec.Choices)
	case forms.TypeMultiSelect:
		return coerceMulti(v, spec.Choices)
	default:
		return nil, fmt.Errorf("field type %q not coercible", spec.Type)
	}
}

func nonEmptyString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a text value, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty text value")
	}
	return s, nil
}

func coerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimLeft(s, "$€£")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSpace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", b)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "January 2, 2006", "Jan 2, 2006"}

func coerceDate(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("not a date: %q", s)
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3 PM"}

func coerceTime(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("not a time of day: %q", s)
}

var dateTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02T15:04"}

func coerceDateTime(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("not a datetime: %q", s)
}

func coerceEmail(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("not an email address: %q", s)
	}
	return addr.Address, nil
}

func coercePhone(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("not a phone number: %q", s)
		}
	}
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("phone number needs 7-15 digits, got %d", digits)
	}
	return s, nil
}

func normalizeChoice(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func coerceChoice(v any, choices []string) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	want := normalizeChoice(s)
	for _, c := range choices {
		if normalizeChoice(c) == want {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q is not one of the declared choices", s)
}

func coerceMulti(v any, choices []string) ([]any, error) {
	var elems []any
	switch list := v.(type) {
	case []any:
		elems = list
	case []string:
		for _, s := range list {
			elems = append(elems, s)
		}
	case string:
		for _, part := range strings.Split(list, ",") {
			if strings.TrimSpace(part) != "" {
				elems = append(elems, part)
			}
		}
	default:
		return nil, fmt.Errorf("expected a list of choices, got %T", v)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("empty choice list")
	}
	seen := make(map[string]bool, len(elems))
	out := make([]any, 0, len(elems))
	for _, e := range elems {
		c, err := coerceChoice(e, choices)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}
