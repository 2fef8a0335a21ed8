package store

import (
	"fmt"
	"strconv"
	"time"
)

// Record is one row keyed by column name.
type Record map[string]any

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// String returns a required text column.
func (r Record) String(key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return "", fmt.Errorf("%w: %q is %T, want text", ErrMalformed, key, v)
}

// OptionalString returns a nullable text column, "" when null.
func (r Record) OptionalString(key string) (string, error) {
	if v, ok := r[key]; !ok || v == nil {
		return "", nil
	}
	return r.String(key)
}

// Int returns a required integer column.
func (r Record) Int(key string) (int, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%w: %q is fractional", ErrMalformed, key)
		}
		return int(t), nil
	case string:
		return parseInt(key, t)
	case []byte:
		return parseInt(key, string(t))
	}
	return 0, fmt.Errorf("%w: %q is %T, want integer", ErrMalformed, key, v)
}

func parseInt(key, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformed, key, err)
	}
	return n, nil
}

// Time returns a required timestamp column in UTC.
func (r Record) Time(key string) (time.Time, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("%w: missing %q", ErrMalformed, key)
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(key, t)
	case []byte:
		return parseTime(key, string(t))
	}
	return time.Time{}, fmt.Errorf("%w: %q is %T, want timestamp", ErrMalformed, key, v)
}

// OptionalTime returns a nullable timestamp column, nil when null.
func (r Record) OptionalTime(key string) (*time.Time, error) {
	if v, ok := r[key]; !ok || v == nil {
		return nil, nil
	}
	t, err := r.Time(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTime(key, s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q: unrecognised timestamp %q", ErrMalformed, key, s)
}

func (r Record) clone() Record {
	out := make(Record, len(r)+3)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// normalize makes driver values uniform: text as string and times in UTC.
func normalize(raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case []byte:
			rec[k] = string(t)
		case time.Time:
			rec[k] = t.UTC()
		default:
			rec[k] = v
		}
	}
	return rec
}
