// Package blocks decodes the structured block payload attached to a record
// and extracts searchable plain text from it.
//
// The payload comes from an external preprocessing pipeline and its shape
// varies between exports: a bare array of blocks, or an object carrying the
// array under "blocks", "contentBlocks" or "content_blocks". Block objects
// themselves are free-form, so extraction walks the JSON tree generically.
//
// Results are always index-aligned with the source array. Navigation
// features address blocks by position, so blank blocks are kept as empty
// entries rather than dropped.
package blocks

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind tags the variant a Block holds.
type Kind string

// Block kinds.
const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindList    Kind = "list"
	KindTable   Kind = "table"
	KindCode    Kind = "code"
	KindUnknown Kind = "unknown"
)

// BoundingBox is a block's position on its page.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Block is one structural unit of a document. Kind selects which of the
// variant fields are meaningful:
//
//	KindText    Text
//	KindImage   ImageURI, Caption
//	KindList    Items
//	KindTable   Rows
//	KindCode    Code, Language
//	KindUnknown only PlainText
type Block struct {
	Kind        Kind         `json:"kind"`
	ID          string       `json:"id"`
	BoundingBox *BoundingBox `json:"bbox,omitempty"`
	PageNumber  *int         `json:"pageNumber,omitempty"`
	ImageURI    string       `json:"imageUri,omitempty"`

	Text     string     `json:"text,omitempty"`
	Caption  string     `json:"caption,omitempty"`
	Items    []string   `json:"items,omitempty"`
	Rows     [][]string `json:"rows,omitempty"`
	Code     string     `json:"code,omitempty"`
	Language string     `json:"language,omitempty"`

	// PlainText is the block's searchable text, possibly empty.
	PlainText string `json:"plainText"`
}

// arrayKeys are the object keys the block array may live under.
var arrayKeys = []string{"blocks", "contentBlocks", "content_blocks"}

// Decode parses raw JSON with numbers kept verbatim.
func Decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Array locates the block array inside a decoded payload. A string payload
// is treated as embedded JSON. It returns nil when the payload has neither
// supported shape.
func Array(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, k := range arrayKeys {
			if arr, ok := t[k].([]any); ok {
				return arr
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" && (s[0] == '[' || s[0] == '{') {
			inner, err := Decode([]byte(s))
			if err == nil {
				return Array(inner)
			}
		}
	}
	return nil
}

// ExtractPlainTexts returns the plain text of each block in raw, in source
// order. The result has exactly one entry per element of the block array.
func ExtractPlainTexts(raw []byte) ([]string, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return PlainTexts(v), nil
}

// PlainTexts is ExtractPlainTexts over an already decoded payload.
func PlainTexts(v any) []string {
	arr := Array(v)
	if arr == nil {
		return nil
	}
	texts := make([]string, len(arr))
	for i, node := range arr {
		texts[i] = PlainText(node)
	}
	return texts
}

// JoinedText returns the non-blank block texts of a decoded payload joined
// by newlines.
func JoinedText(v any) string {
	texts := PlainTexts(v)
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// Parse decodes raw into blocks with stable ids assigned.
func Parse(raw []byte) ([]Block, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return FromValue(v), nil
}

// FromValue builds blocks from an already decoded payload.
func FromValue(v any) []Block {
	arr := Array(v)
	if arr == nil {
		return nil
	}
	out := make([]Block, len(arr))
	for i, node := range arr {
		out[i] = toBlock(node)
	}
	AssignIDs(out)
	return out
}
