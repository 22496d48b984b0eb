package memory

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Kind is the record type.
type Kind string

const (
	KindCode           Kind = "code"
	KindDecision       Kind = "decision"
	KindErrorPattern   Kind = "error_pattern"
	KindReasoningTrace Kind = "reasoning_trace"
	KindPlan           Kind = "plan"
	KindPlanStep       Kind = "plan_step"
)

// Kinds lists every record kind.
var Kinds = []Kind{KindCode, KindDecision, KindErrorPattern, KindReasoningTrace, KindPlan, KindPlanStep}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := schemas[k]
	return ok
}

type fieldType int

const (
	typeString fieldType = iota
	typeInt
	typeFloat
	typeBool
)

func (t fieldType) String() string {
	return [...]string{"string", "integer", "number", "boolean"}[t]
}

type field struct {
	typ      fieldType
	required bool
	// allowEmpty permits "" for a required string.
	allowEmpty bool
	check      func(any) error
}

// reservedAttribute holds the kind in backend metadata.
const reservedAttribute = "kind"

// Provenance attributes, optional on every kind. They record who wrote a
// record and are not part of its identity.
var commonFields = map[string]field{
	"run_id":    {typ: typeString},
	"stage":     {typ: typeString},
	"iteration": {typ: typeInt, check: nonNegative},
	"timestamp": {typ: typeString},
	"ref":       {typ: typeString},
}

var schemas = map[Kind]map[string]field{
	KindCode: {
		"file_path":   {typ: typeString, required: true},
		"commit_hash": {typ: typeString},
	},
	KindDecision: {
		"agent":         {typ: typeString, required: true},
		"decision_text": {typ: typeString, required: true},
		"context_text":  {typ: typeString, required: true, allowEmpty: true},
	},
	KindErrorPattern: {
		"error_text": {typ: typeString, required: true},
		// Empty means no confirmed fix yet.
		"fix_text": {typ: typeString, required: true, allowEmpty: true},
	},
	KindReasoningTrace: {
		"reasoning_type":  {typ: typeString, required: true},
		"problem_text":    {typ: typeString, required: true},
		"conclusion_text": {typ: typeString, required: true},
		"confidence":      {typ: typeFloat, required: true, check: unitInterval},
		"step_count":      {typ: typeInt, required: true, check: nonNegative},
	},
	KindPlan: {
		"user_request":  {typ: typeString, required: true},
		"understanding": {typ: typeString, required: true, allowEmpty: true},
		"complexity":    {typ: typeString, required: true},
		"step_count":    {typ: typeInt, required: true, check: nonNegative},
		"risks":         {typ: typeString, required: true, allowEmpty: true},
	},
	KindPlanStep: {
		"user_request": {typ: typeString, required: true},
		"step_number":  {typ: typeInt, required: true, check: positive},
		"agent":        {typ: typeString, required: true},
		"action":       {typ: typeString, required: true},
		"files":        {typ: typeString, required: true, allowEmpty: true},
	},
}

func lookupField(kind Kind, name string) (field, bool) {
	if f, ok := schemas[kind][name]; ok {
		return f, true
	}
	f, ok := commonFields[name]
	return f, ok
}

func unitInterval(v any) error {
	if f := v.(float64); f < 0 || f > 1 || math.IsNaN(f) {
		return fmt.Errorf("must be in [0,1], got %v", f)
	}
	return nil
}

func nonNegative(v any) error {
	if i := v.(int64); i < 0 {
		return fmt.Errorf("must be >= 0, got %d", i)
	}
	return nil
}

func positive(v any) error {
	if i := v.(int64); i < 1 {
		return fmt.Errorf("must be >= 1, got %d", i)
	}
	return nil
}

// normalize converts v to the canonical Go type for t: string, int64,
// float64 or bool.
func normalize(t fieldType, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("is null")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return nil, fmt.Errorf("must be a scalar, got %T", v)
	}

	switch t {
	case typeString:
		if rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case typeBool:
		if rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case typeInt:
		switch {
		case rv.CanInt():
			return rv.Int(), nil
		case rv.CanUint() && rv.Uint() <= math.MaxInt64:
			return int64(rv.Uint()), nil
		case rv.CanFloat() && rv.Float() == math.Trunc(rv.Float()):
			return int64(rv.Float()), nil
		}
	case typeFloat:
		switch {
		case rv.CanFloat():
			return rv.Float(), nil
		case rv.CanInt():
			return float64(rv.Int()), nil
		case rv.CanUint():
			return float64(rv.Uint()), nil
		}
	}
	return nil, fmt.Errorf("must be %s, got %T", t, v)
}

// validate checks attrs against the kind schema and returns a normalized copy.
func validate(kind Kind, attrs Attributes) (Attributes, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Kind: kind, Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	out := make(Attributes, len(attrs))
	for name, v := range attrs {
		f, ok := lookupField(kind, name)
		if !ok {
			return nil, &ValidationError{Kind: kind, Field: name, Reason: "not in schema"}
		}
		nv, err := normalize(f.typ, v)
		if err != nil {
			return nil, &ValidationError{Kind: kind, Field: name, Reason: err.Error()}
		}
		if f.check != nil {
			if err := f.check(nv); err != nil {
				return nil, &ValidationError{Kind: kind, Field: name, Reason: err.Error()}
			}
		}
		out[name] = nv
	}

	names := make([]string, 0, len(schemas[kind]))
	for name := range schemas[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := schemas[kind][name]
		if !f.required {
			continue
		}
		v, ok := out[name]
		if !ok {
			return nil, &ValidationError{Kind: kind, Field: name, Reason: "required"}
		}
		if s, isStr := v.(string); isStr && s == "" && !f.allowEmpty {
			return nil, &ValidationError{Kind: kind, Field: name, Reason: "must not be empty"}
		}
	}
	return out, nil
}
