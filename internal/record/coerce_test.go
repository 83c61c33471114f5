package record

import (
	"reflect"
	"testing"

	"github.com/avoncourt/voxform/internal/forms"
)

func TestCoercePerType(t *testing.T) {
	cases := []struct {
		name    string
		spec    forms.FieldSpec
		in      any
		want    any
		wantErr bool
	}{
		{"text passes", forms.FieldSpec{Type: forms.TypeText}, " hello ", "hello", false},
		{"text rejects blank", forms.FieldSpec{Type: forms.TypeText}, "   ", nil, true},
		{"text rejects number", forms.FieldSpec{Type: forms.TypeText}, 42.0, nil, true},
		{"name passes", forms.FieldSpec{Type: forms.TypeName}, "Jo", "Jo", false},

		{"number from float", forms.FieldSpec{Type: forms.TypeNumber}, 3.5, 3.5, false},
		{"number from string", forms.FieldSpec{Type: forms.TypeNumber}, "42", 42.0, false},
		{"number rejects words", forms.FieldSpec{Type: forms.TypeNumber}, "a lot", nil, true},
		{"currency strips symbols", forms.FieldSpec{Type: forms.TypeCurrency}, "$12,500.50", 12500.50, false},

		{"bool from bool", forms.FieldSpec{Type: forms.TypeBoolean}, true, true, false},
		{"bool from yes", forms.FieldSpec{Type: forms.TypeBoolean}, "Yes", true, false},
		{"bool from no", forms.FieldSpec{Type: forms.TypeBoolean}, "no", false, false},
		{"bool rejects maybe", forms.FieldSpec{Type: forms.TypeBoolean}, "maybe", nil, true},

		{"date iso", forms.FieldSpec{Type: forms.TypeDate}, "2025-03-14", "2025-03-14", false},
		{"date rfc3339", forms.FieldSpec{Type: forms.TypeDate}, "2025-03-14T09:30:00Z", "2025-03-14", false},
		{"date long form", forms.FieldSpec{Type: forms.TypeDate}, "March 14, 2025", "2025-03-14", false},
		{"date rejects noise", forms.FieldSpec{Type: forms.TypeDate}, "last tuesday", nil, true},

		{"time plain", forms.FieldSpec{Type: forms.TypeTime}, "14:30", "14:30", false},
		{"time am pm", forms.FieldSpec{Type: forms.TypeTime}, "2:30 PM", "14:30", false},
		{"time rejects noise", forms.FieldSpec{Type: forms.TypeTime}, "afternoonish", nil, true},

		{"datetime rfc3339", forms.FieldSpec{Type: forms.TypeDateTime}, "2025-03-14T09:30:00Z", "2025-03-14T09:30:00Z", false},
		{"datetime naive", forms.FieldSpec{Type: forms.TypeDateTime}, "2025-03-14 09:30", "2025-03-14T09:30:00Z", false},

		{"email plain", forms.FieldSpec{Type: forms.TypeEmail}, "jo@example.com", "jo@example.com", false},
		{"email display form", forms.FieldSpec{Type: forms.TypeEmail}, "Jo <jo@example.com>", "jo@example.com", false},
		{"email rejects junk", forms.FieldSpec{Type: forms.TypeEmail}, "not-an-email", nil, true},

		{"phone keeps formatting", forms.FieldSpec{Type: forms.TypePhone}, "+1 (555) 010-0100", "+1 (555) 010-0100", false},
		{"phone short", forms.FieldSpec{Type: forms.TypePhone}, "555-0100", "555-0100", false},
		{"phone rejects words", forms.FieldSpec{Type: forms.TypePhone}, "call me", nil, true},
		{"phone rejects too few digits", forms.FieldSpec{Type: forms.TypePhone}, "123", nil, true},

		{"select canonical casing", forms.FieldSpec{Type: forms.TypeSelect, Choices: []string{"auto", "home"}}, "AUTO", "auto", false},
		{"select space to underscore", forms.FieldSpec{Type: forms.TypeSelect, Choices: []string{"text_message"}}, "text message", "text_message", false},
		{"select rejects stranger", forms.FieldSpec{Type: forms.TypeSelect, Choices: []string{"auto"}}, "boat", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Coerce(tc.spec, tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Coerce(%v) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%v) error = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Coerce(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCoerceMultiSelect(t *testing.T) {
	spec := forms.FieldSpec{Type: forms.TypeMultiSelect, Choices: []string{"garage", "garden", "pool"}}

	got, err := Coerce(spec, []any{"Garden", "garage", "garden"})
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if !reflect.DeepEqual(got, []any{"garden", "garage"}) {
		t.Fatalf("Coerce() = %v, want deduped canonical list", got)
	}

	got, err = Coerce(spec, "pool, garden")
	if err != nil {
		t.Fatalf("Coerce(comma string) error = %v", err)
	}
	if !reflect.DeepEqual(got, []any{"pool", "garden"}) {
		t.Fatalf("Coerce(comma string) = %v", got)
	}

	if _, err = Coerce(spec, []any{"garden", "helipad"}); err == nil {
		t.Fatalf("Coerce() accepted undeclared choice")
	}
	if _, err = Coerce(spec, []any{}); err == nil {
		t.Fatalf("Coerce() accepted empty list")
	}
}
