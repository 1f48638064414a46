// Package validate scores extracted fields against deterministic
// cross-field rules. It only sets flags; values are never altered, and
// running it twice on an unchanged record yields identical flags.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"docextract/internal/fieldschema"
	"docextract/internal/record"
)

// Flag values attached to fields. Stable strings: they end up in records
// and reports.
const (
	FlagMissingValue     = "missing_value"
	FlagComponentSum     = "component_sum_mismatch"
	FlagGroupImbalance   = "group_sum_imbalance"
	FlagPatternMismatch  = "pattern_mismatch"
	FlagUnparseableValue = "unparseable_value"
)

// Config holds validation tunables.
type Config struct {
	// ConfidenceThreshold marks a field for escalation when its model
	// confidence falls below it.
	ConfidenceThreshold float64
	// FinancialTolerance is the allowed relative imbalance between
	// balancing groups (sources vs uses), e.g. 0.005 for 0.5%.
	FinancialTolerance float64
}

type Validator struct {
	schema *fieldschema.Schema
	cfg    Config
}

func New(schema *fieldschema.Schema, cfg Config) *Validator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.75
	}
	if cfg.FinancialTolerance <= 0 {
		cfg.FinancialTolerance = 0.005
	}
	return &Validator{schema: schema, cfg: cfg}
}

// Evaluate recomputes validation flags for every field in the record and
// returns the names of fields needing escalation (validation failure or
// confidence below threshold), sorted for determinism.
func (v *Validator) Evaluate(rec *record.Record) []string {
	flags := make(map[string][]string)
	addFlag := func(name, flag string) {
		flags[name] = append(flags[name], flag)
	}

	for _, spec := range v.schema.Fields {
		f, ok := rec.Fields[spec.Name]
		if !ok {
			continue
		}
		if spec.Required && f.Value == nil {
			addFlag(spec.Name, FlagMissingValue)
		}
		if f.Value != nil {
			switch spec.Type {
			case fieldschema.TypeAddress, fieldschema.TypeString:
				v.checkPattern(spec, f.Value, addFlag)
			case fieldschema.TypeDecimal:
				if _, err := decimalValue(f.Value); err != nil {
					addFlag(spec.Name, FlagUnparseableValue)
				}
			case fieldschema.TypeInteger:
				if _, ok := intValue(f); !ok {
					addFlag(spec.Name, FlagUnparseableValue)
				}
			}
		}
		if len(spec.Components) > 0 {
			v.checkComponentSum(spec, rec, addFlag)
		}
	}
	v.checkGroupBalance(rec, addFlag)

	// Replace flags wholesale so stale ones don't survive re-validation.
	escalate := make([]string, 0)
	for _, name := range rec.FieldNames() {
		f := rec.Fields[name]
		fl := flags[name]
		sort.Strings(fl)
		f.ValidationFlags = fl
		if len(fl) > 0 || f.Confidence < v.cfg.ConfidenceThreshold {
			escalate = append(escalate, name)
		}
	}
	return escalate
}

// checkComponentSum verifies integer components sum exactly to the total.
// Tolerance is zero for counts. The total field carries the flag.
func (v *Validator) checkComponentSum(spec fieldschema.FieldSpec, rec *record.Record, addFlag func(name, flag string)) {
	total, ok := intValue(rec.Fields[spec.Name])
	if !ok {
		return // missing/unparseable handled elsewhere
	}
	var sum int64
	for _, comp := range spec.Components {
		cv, ok := intValue(rec.Fields[comp])
		if !ok {
			return // can't check until every component has a value
		}
		sum += cv
	}
	if sum != total {
		addFlag(spec.Name, FlagComponentSum)
	}
}

// checkGroupBalance sums decimal fields by group and flags every member of
// unbalanced group pairs. Groups pair positionally with their counterpart:
// sources must balance uses within the configured tolerance.
func (v *Validator) checkGroupBalance(rec *record.Record, addFlag func(name, flag string)) {
	sums := make(map[string]float64)
	members := make(map[string][]string)
	complete := make(map[string]bool)

	for _, spec := range v.schema.Fields {
		if spec.Group == "" || spec.Type != fieldschema.TypeDecimal {
			continue
		}
		if _, seen := sums[spec.Group]; !seen {
			sums[spec.Group] = 0
			complete[spec.Group] = true
		}
		members[spec.Group] = append(members[spec.Group], spec.Name)
		f, ok := rec.Fields[spec.Name]
		if !ok || f.Value == nil {
			complete[spec.Group] = false
			continue
		}
		val, err := decimalValue(f.Value)
		if err != nil {
			complete[spec.Group] = false
			continue
		}
		sums[spec.Group] += val
	}

	groups := make([]string, 0, len(sums))
	for g := range sums {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			if !complete[a] || !complete[b] {
				continue
			}
			if balanced(sums[a], sums[b], v.cfg.FinancialTolerance) {
				continue
			}
			for _, name := range members[a] {
				addFlag(name, FlagGroupImbalance)
			}
			for _, name := range members[b] {
				addFlag(name, FlagGroupImbalance)
			}
		}
	}
}

func balanced(a, b, tolerance float64) bool {
	larger := a
	if b > larger {
		larger = b
	}
	if larger == 0 {
		return true
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/larger <= tolerance
}

// checkPattern enforces the minimal structural pattern on address/name
// fields: non-empty and containing every required token.
func (v *Validator) checkPattern(spec fieldschema.FieldSpec, value any, addFlag func(name, flag string)) {
	s, ok := value.(string)
	if !ok {
		addFlag(spec.Name, FlagUnparseableValue)
		return
	}
	if strings.TrimSpace(s) == "" {
		addFlag(spec.Name, FlagPatternMismatch)
		return
	}
	lower := strings.ToLower(s)
	for _, tok := range spec.RequiredTokens {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			addFlag(spec.Name, FlagPatternMismatch)
			return
		}
	}
}

func intValue(f *record.Field) (int64, bool) {
	if f == nil || f.Value == nil {
		return 0, false
	}
	switch t := f.Value.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		// A fractional count is a model error, not a roundable number.
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func decimalValue(value any) (float64, error) {
	switch t := value.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("unsupported decimal type %T", value)
}
