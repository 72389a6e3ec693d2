package redact

import (
	"encoding/json"
	"reflect"
)

// DefaultMaxDepth bounds recursion; deeper subtrees are replaced wholesale.
const DefaultMaxDepth = 64

// Redactor applies an immutable rule set. It is safe for concurrent use.
type Redactor struct {
	matchers []Matcher
	maxDepth int
}

// New builds a Redactor from matchers. A nil slice selects DefaultMatchers.
func New(matchers []Matcher, maxDepth int) *Redactor {
	if matchers == nil {
		matchers = DefaultMatchers()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	copied := make([]Matcher, len(matchers))
	copy(copied, matchers)
	return &Redactor{matchers: copied, maxDepth: maxDepth}
}

var defaultRedactor = New(nil, DefaultMaxDepth)

// Default returns the process-wide redactor built from DefaultMatchers.
func Default() *Redactor {
	return defaultRedactor
}

// String masks every content match in s.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	for _, m := range r.matchers {
		s = m.Pattern.ReplaceAllString(s, m.Replacement)
	}
	return s
}

// Object returns a redacted deep copy of v. Maps, slices and strings are walked;
// other scalars are returned as is. Structs and other composite values are first
// flattened through their JSON form. Values that cannot be processed collapse to
// MarkerSubtree.
func (r *Redactor) Object(v any) any {
	return r.walk(v, 0)
}

func (r *Redactor) walk(v any, depth int) any {
	if depth > r.maxDepth {
		return MarkerSubtree
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return r.String(val)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.field(k, item, depth)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.field(k, item, depth)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.walk(item, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.String(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.walk(item, depth+1)
		}
		return out
	case error:
		return r.String(val.Error())
	}
	return r.walkReflected(v, depth)
}

func (r *Redactor) field(key string, value any, depth int) any {
	if class := ClassifyField(key); class != FieldPlain {
		return markerFor(class)
	}
	return r.walk(value, depth+1)
}

// walkReflected normalises unknown kinds through encoding/json. Cyclic or otherwise
// unencodable values fail to marshal and are replaced entirely.
func (r *Redactor) walkReflected(v any, depth int) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return MarkerSubtree
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return MarkerSubtree
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return MarkerSubtree
	}
	return r.walk(generic, depth)
}

// Object redacts v with the default redactor.
func Object(v any) any {
	return defaultRedactor.Object(v)
}

// String redacts s with the default redactor.
func String(s string) string {
	return defaultRedactor.String(s)
}
