package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"docextract/internal/fieldschema"
)

// wireResponse matches the model endpoint contract:
// {"fields": [{"name", "value", "confidence", "rationale"}]}.
type wireResponse struct {
	Fields []struct {
		Name       string          `json:"name"`
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
		Rationale  string          `json:"rationale"`
	} `json:"fields"`
}

// DecodeResults parses validated model JSON into per-field results. Every
// requested field gets an entry: answers the model skipped come back as
// value=nil, confidence=0. For escalation calls, Changed is computed
// against the prior tier's value.
func DecodeResults(raw []byte, fields []fieldschema.FieldSpec, prior map[string]PriorValue) (map[string]FieldResult, error) {
	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}

	specs := make(map[string]fieldschema.FieldSpec, len(fields))
	for _, f := range fields {
		specs[f.Name] = f
	}

	out := make(map[string]FieldResult, len(fields))
	for _, wf := range wire.Fields {
		spec, requested := specs[wf.Name]
		if !requested {
			continue // unsolicited field, drop
		}
		value, err := decodeValue(wf.Value, spec.Type)
		if err != nil {
			// A malformed value degrades that field, not the call.
			out[wf.Name] = FieldResult{Name: wf.Name, Rationale: "unparseable value: " + err.Error()}
			continue
		}
		conf := clamp01(wf.Confidence)
		if value == nil {
			conf = 0
		}
		res := FieldResult{
			Name:       wf.Name,
			Value:      value,
			Confidence: conf,
			Rationale:  wf.Rationale,
		}
		if prior != nil {
			if pv, ok := prior[wf.Name]; ok {
				res.Changed = !valuesEqual(pv.Value, value)
			}
		}
		out[wf.Name] = res
	}

	// Backfill anything the model omitted.
	for _, f := range fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = FieldResult{Name: f.Name, Rationale: "not returned by model"}
		}
	}
	return out, nil
}

func decodeValue(raw json.RawMessage, t fieldschema.FieldType) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch t {
	case fieldschema.TypeInteger:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExtractJSONBlock pulls the first top-level JSON object out of model text
// that may wrap it in prose or code fences.
func ExtractJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
