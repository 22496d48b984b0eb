package memory

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Attributes is a flat map of scalar values.
type Attributes map[string]any

// String returns the attribute as a string, or "".
func (a Attributes) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer attribute, or 0.
func (a Attributes) Int(name string) int64 {
	i, _ := a[name].(int64)
	return i
}

// Float returns a number attribute, or 0.
func (a Attributes) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// Record is a stored unit.
type Record struct {
	ID         string
	Namespace  string
	Kind       Kind
	Content    string
	Attributes Attributes
}

// Result is a Record returned by Search.
type Result struct {
	Record
	Score float32
}

// recordNamespace scopes record IDs; any fixed UUID works.
var recordNamespace = uuid.MustParse("6f1d8f4e-2b7a-4c35-9d8e-5a0b3c1e7f92")

// RecordID derives the ID for normalized attrs. Provenance attributes are
// left out so that the same knowledge written by different runs converges
// on one record. The result is a UUID so every backend accepts it as a
// point ID.
func RecordID(kind Kind, content string, attrs Attributes) string {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(0)
	b.WriteString(content)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if _, ok := commonFields[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(attrs[k]))
	}
	return uuid.NewMD5(recordNamespace, []byte(b.String())).String()
}

// encodeValue renders a normalized attribute value for backend metadata.
func encodeValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// decodeValue parses a metadata string back into the schema type. Values
// that fail to parse stay strings.
func decodeValue(t fieldType, s string) any {
	switch t {
	case typeInt:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case typeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case typeBool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
