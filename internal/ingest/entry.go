package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entry is the typed view of one export element. Absent and null fields
// are nil.
type Entry struct {
	EntryID           *string
	UnitName          *string
	JobTitle          *string
	ContentMarkdown   *string
	ContentNormalized *string
	Blocks            any
	Position          *int64
	Tags              []string
	PageNumber        *int
	BBox              any
	ImageURIs         []string
	Category          *string
}

// Title is jobTitle, else unitName, else entryId.
func (e *Entry) Title() string {
	for _, s := range []*string{e.JobTitle, e.UnitName, e.EntryID} {
		if s != nil && strings.TrimSpace(*s) != "" {
			return strings.TrimSpace(*s)
		}
	}
	return ""
}

// ID returns the entry id or "".
func (e *Entry) ID() string {
	if e.EntryID == nil {
		return ""
	}
	return *e.EntryID
}

// fields wraps a decoded element with optional-get accessors. Each accessor
// reports a type mismatch as an error instead of guessing.
type fields map[string]any

func (f fields) value(key string) (any, bool) {
	v, ok := f[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// optString accepts strings and numbers (ids are sometimes numeric).
func (f fields) optString(key string) (*string, error) {
	v, ok := f.value(key)
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return &t, nil
	case json.Number:
		s := t.String()
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q: want string, got %s", key, kindOf(v))
	}
}

// optText is optString without the numeric form.
func (f fields) optText(key string) (*string, error) {
	v, ok := f.value(key)
	if !ok {
		return nil, nil
	}
	s, isString := v.(string)
	if !isString {
		return nil, fmt.Errorf("field %q: want string, got %s", key, kindOf(v))
	}
	return &s, nil
}

// optInt accepts integral numbers and numeric strings.
func (f fields) optInt(key string) (*int64, error) {
	v, ok := f.value(key)
	if !ok {
		return nil, nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("field %q: want integer, got %s", key, kindOf(v))
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || fl != float64(int64(fl)) {
			return nil, fmt.Errorf("field %q: %q is not an integer", key, s)
		}
		n = int64(fl)
	}
	return &n, nil
}

// optStrings accepts an array of strings or a comma separated string.
func (f fields) optStrings(key string) ([]string, error) {
	v, ok := f.value(key)
	if !ok {
		return nil, nil
	}
	var out []string
	switch t := v.(type) {
	case string:
		for _, part := range strings.Split(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for i, item := range t {
			switch it := item.(type) {
			case nil:
			case string:
				if p := strings.TrimSpace(it); p != "" {
					out = append(out, p)
				}
			case json.Number:
				out = append(out, it.String())
			default:
				return nil, fmt.Errorf("field %q[%d]: want string, got %s", key, i, kindOf(item))
			}
		}
	default:
		return nil, fmt.Errorf("field %q: want string list, got %s", key, kindOf(v))
	}
	return out, nil
}

// ParseEntry reads the fixed entry shape from a decoded element.
func ParseEntry(obj map[string]any) (*Entry, error) {
	f := fields(obj)
	e := &Entry{}
	var err error

	if e.EntryID, err = f.optString("entryId"); err != nil {
		return nil, err
	}
	if e.UnitName, err = f.optText("unitName"); err != nil {
		return nil, err
	}
	if e.JobTitle, err = f.optText("jobTitle"); err != nil {
		return nil, err
	}
	if e.ContentMarkdown, err = f.optText("contentMarkdown"); err != nil {
		return nil, err
	}
	if e.ContentNormalized, err = f.optText("contentNormalized"); err != nil {
		return nil, err
	}
	if e.Position, err = f.optInt("position"); err != nil {
		return nil, err
	}
	if e.Tags, err = f.optStrings("tags"); err != nil {
		return nil, err
	}
	if e.ImageURIs, err = f.optStrings("imageUris"); err != nil {
		return nil, err
	}
	if e.Category, err = f.optText("category"); err != nil {
		return nil, err
	}

	page, err := f.optInt("pageNumber")
	if err != nil {
		return nil, err
	}
	if page != nil {
		p := int(*page)
		e.PageNumber = &p
	}

	e.Blocks, _ = f.value("blocks")
	if e.Blocks == nil {
		e.Blocks, _ = f.value("contentBlocks")
	}
	e.BBox, _ = f.value("bbox")

	return e, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
