package record

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/avoncourt/voxform/internal/forms"
)

// Partial is the structured record accumulated over a conversation, keyed
// by field key. Values hold JSON shapes only: string, float64, bool, []any.
type Partial map[string]any

const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Op is one RFC 6902 operation scoped to a top-level field path.
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// OpError explains why a single operation was dropped from a batch.
type OpError struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e *OpError) Error() string {
	return fmt.Sprintf("op %d (%s): %s", e.Index, e.Path, e.Reason)
}

// Clone returns a copy safe to mutate independently.
func (p Partial) Clone() Partial {
	out := make(Partial, len(p))
	for k, v := range p {
		if arr, ok := v.([]any); ok {
			out[k] = append([]any(nil), arr...)
			continue
		}
		out[k] = v
	}
	return out
}

// Sanitize validates and coerces a raw batch against the form. Invalid
// operations are dropped one by one; the survivors come back coerced and
// normalized, with one OpError per dropped op. A remove aimed at a field
// not yet in the record is a silent no-op, and a replace of an absent
// field is demoted to an add.
func Sanitize(cfg *forms.FormConfig, rec Partial, raw []Op) ([]Op, []OpError) {
	kept := make([]Op, 0, len(raw))
	var dropped []OpError
	for i, op := range raw {
		key, err := fieldKeyFromPath(op.Path)
		if err != nil {
			dropped = append(dropped, OpError{Index: i, Path: op.Path, Reason: err.Error()})
			continue
		}
		spec, ok := cfg.Field(key)
		if !ok {
			dropped = append(dropped, OpError{Index: i, Path: op.Path, Reason: "unknown field"})
			continue
		}
		switch op.Op {
		case OpRemove:
			if _, present := rec[key]; !present {
				continue
			}
			kept = append(kept, Op{Op: OpRemove, Path: op.Path})
		case OpAdd, OpReplace:
			value, err := Coerce(spec, op.Value)
			if err != nil {
				dropped = append(dropped, OpError{Index: i, Path: op.Path, Reason: err.Error()})
				continue
			}
			kind := op.Op
			if _, present := rec[key]; !present {
				kind = OpAdd
			}
			kept = append(kept, Op{Op: kind, Path: op.Path, Value: value})
		default:
			dropped = append(dropped, OpError{Index: i, Path: op.Path, Reason: fmt.Sprintf("unknown op %q", op.Op)})
		}
	}
	return kept, dropped
}

// Apply applies a sanitized batch to the record through an RFC 6902 patch.
// All-or-nothing: on any apply failure the original record is returned
// untouched. Later operations on the same path win.
func Apply(rec Partial, ops []Op) (Partial, error) {
	if len(ops) == 0 {
		return rec, nil
	}
	currentJSON, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal record: %w", err)
	}
	patchJSON, err := json.Marshal(ops)
	if err != nil {
		return rec, fmt.Errorf("marshal patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return rec, fmt.Errorf("decode patch: %w", err)
	}
	modifiedJSON, err := patch.Apply(currentJSON)
	if err != nil {
		return rec, fmt.Errorf("apply patch: %w", err)
	}
	var out Partial
	if err := json.Unmarshal(modifiedJSON, &out); err != nil {
		return rec, fmt.Errorf("unmarshal patched record: %w", err)
	}
	if out == nil {
		out = Partial{}
	}
	return out, nil
}

// Completion reports whether the record satisfies the form and which
// required keys are still missing, in declaration order.
type Completion struct {
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing,omitempty"`
}

// Evaluate computes completion for the record against the form.
func Evaluate(cfg *forms.FormConfig, rec Partial) Completion {
	var missing []string
	for _, key := range cfg.RequiredKeys() {
		if !hasValue(rec[key]) {
			missing = append(missing, key)
		}
	}
	return Completion{Complete: len(missing) == 0, Missing: missing}
}

func hasValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	default:
		return true
	}
}

func fieldKeyFromPath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("malformed path %q", path)
	}
	key := path[1:]
	if key == "" || strings.ContainsAny(key, "/~") {
		return "", fmt.Errorf("malformed path %q", path)
	}
	return key, nil
}
