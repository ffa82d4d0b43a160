package domain

import (
	"encoding/json"
	"strconv"
)

// Result is the flat key/value payload produced by one analysis kind.
//
//	sentiment: {label, confidence}
//	issue:     {category, confidence}
//	priority:  {priority, confidence}
//	summary:   {summary}
//	reply:     {reply}
type Result map[string]any

// String returns the string value stored under key, or "" if absent or not a string.
func (r Result) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Float returns the numeric value stored under key. Values decoded from JSON
// arrive as float64; json.Number and numeric strings are accepted as well.
func (r Result) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Clone returns a shallow copy. Values are scalars so a shallow copy is enough.
func (r Result) Clone() Result {
	if r == nil {
		return Result{}
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
