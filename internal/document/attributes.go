package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout renders canonical (naive) timestamps.
const TimestampLayout = "2006-01-02T15:04:05.999999"

// Attributes maps attribute names to string, integer, float, bool or
// time.Time values. Keys are producer defined.
type Attributes map[string]any

// MissingAttributeError is returned when a filter references an attribute
// the document does not carry. It points at a scraper bug rather than at a
// data condition.
type MissingAttributeError struct {
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("document has no attribute %q", e.Attribute)
}

// Get returns the string form of an attribute.
func (a Attributes) Get(key string) (string, error) {
	value, ok := a[key]
	if !ok {
		return "", &MissingAttributeError{Attribute: key}
	}
	return Stringify(value), nil
}

// Stringify renders an attribute value the way filters see it.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(TimestampLayout)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format(TimestampLayout)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// canonical replaces timestamps by their canonical text, with the trailing
// Z that jq's date functions insist on. The Z does not mean UTC, the
// timestamp is naive local time.
func (a Attributes) canonical() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		switch t := v.(type) {
		case time.Time:
			out[k] = t.Format(TimestampLayout) + "Z"
		case *time.Time:
			if t == nil {
				out[k] = nil
				continue
			}
			out[k] = t.Format(TimestampLayout) + "Z"
		default:
			out[k] = v
		}
	}
	return out
}

// MarshalJSON renders the attributes with sorted keys and canonical
// timestamps.
func (a Attributes) MarshalJSON() ([]byte, error) {
	// encoding/json sorts map keys
	return json.Marshal(a.canonical())
}

// queryInput is the generic JSON value jq expressions run against.
func (a Attributes) queryInput() (any, error) {
	rendered, err := a.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(rendered))
	dec.UseNumber()
	err = dec.Decode(&out)
	if err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, inner := range v {
			v[k] = normalizeNumbers(inner)
		}
		return v
	case []any:
		for i, inner := range v {
			v[i] = normalizeNumbers(inner)
		}
		return v
	default:
		return v
	}
}

var timestampRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,9})?Z$`)

// ParseAttributes is the inverse of MarshalJSON: strings in canonical
// timestamp form become naive local time.Time values again, integral
// numbers become int64 and the rest float64.
func ParseAttributes(data []byte) (Attributes, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("parse attributes: %w", err)
	}

	out := make(Attributes, len(raw))
	for k, v := range raw {
		switch value := v.(type) {
		case json.Number:
			if i, err := value.Int64(); err == nil {
				out[k] = i
				continue
			}
			f, err := value.Float64()
			if err != nil {
				return nil, fmt.Errorf("parse attribute %q: %w", k, err)
			}
			out[k] = f
		case string:
			if !timestampRegex.MatchString(value) {
				out[k] = value
				continue
			}
			t, err := time.ParseInLocation("2006-01-02T15:04:05", strings.TrimSuffix(value, "Z"), time.Local)
			if err != nil {
				out[k] = value
				continue
			}
			out[k] = t
		default:
			out[k] = value
		}
	}
	return out, nil
}
