package blocks

import (
	"encoding/json"
	"strings"

	"github.com/Aman-CERP/amankb/internal/contentid"
	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// kindAliases maps the type names seen in exports to block kinds.
var kindAliases = map[string]Kind{
	"text":      KindText,
	"paragraph": KindText,
	"heading":   KindText,
	"title":     KindText,
	"header":    KindText,
	"image":     KindImage,
	"figure":    KindImage,
	"picture":   KindImage,
	"list":      KindList,
	"list_item": KindList,
	"listitem":  KindList,
	"table":     KindTable,
	"code":      KindCode,
	"codeblock": KindCode,
}

func toBlock(node any) Block {
	obj, ok := node.(map[string]any)
	if !ok {
		return Block{Kind: KindUnknown, PlainText: PlainText(node)}
	}

	b := Block{
		Kind:       detectKind(obj),
		ID:         stringField(obj, "id", "blockId", "block_id"),
		PageNumber: intField(obj, "pageNumber", "page_number", "page"),
		ImageURI:   stringField(obj, "imageUri", "image_uri", "uri", "src", "url"),
		PlainText:  PlainText(obj),
	}
	b.BoundingBox = bboxField(obj)

	switch b.Kind {
	case KindText:
		b.Text = stringField(obj, "text", "content", "title")
	case KindImage:
		b.Caption = stringField(obj, "caption", "alt")
	case KindList:
		b.Items = stringList(firstValue(obj, "items", "list"))
	case KindTable:
		b.Rows = tableRows(firstValue(obj, "rows", "cells"))
	case KindCode:
		b.Code = stringField(obj, "code", "text", "content")
		b.Language = stringField(obj, "language", "lang")
	}
	return b
}

func detectKind(obj map[string]any) Kind {
	if name := stringField(obj, "type", "blockType", "block_type", "kind"); name != "" {
		if k, ok := kindAliases[strings.ToLower(name)]; ok {
			return k
		}
		return KindUnknown
	}
	switch {
	case has(obj, "code"):
		return KindCode
	case has(obj, "rows"), has(obj, "cells"):
		return KindTable
	case has(obj, "items"):
		return KindList
	case has(obj, "imageUri"), has(obj, "image_uri"), has(obj, "src"):
		return KindImage
	case has(obj, "text"), has(obj, "content"):
		return KindText
	}
	return KindUnknown
}

// AssignIDs fills in missing block ids. Ids supplied by the source are kept
// verbatim; the rest are derived from kind and normalized text and made
// unique within the slice.
func AssignIDs(bs []Block) {
	d := contentid.NewDisambiguator()
	for _, b := range bs {
		if b.ID != "" {
			d.Reserve(b.ID)
		}
	}
	for i := range bs {
		if bs[i].ID != "" {
			continue
		}
		hash := contentid.BlockHash(string(bs[i].Kind), textnorm.NormalizeForSearch(bs[i].PlainText))
		bs[i].ID = d.Next(hash)
	}
}

func has(obj map[string]any, key string) bool {
	v, ok := obj[key]
	return ok && v != nil
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stringField returns the first of keys holding a string or number.
func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func intField(obj map[string]any, keys ...string) *int {
	for _, k := range keys {
		if n, ok := obj[k].(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v := int(i)
				return &v
			}
		}
	}
	return nil
}

func floatOf(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// bboxField accepts [x0, y0, x1, y1] or {"x0":..,"y0":..,"x1":..,"y1":..}.
func bboxField(obj map[string]any) *BoundingBox {
	v := firstValue(obj, "bbox", "boundingBox", "bounding_box")
	switch t := v.(type) {
	case []any:
		if len(t) != 4 {
			return nil
		}
		var c [4]float64
		for i, el := range t {
			f, ok := floatOf(el)
			if !ok {
				return nil
			}
			c[i] = f
		}
		return &BoundingBox{X0: c[0], Y0: c[1], X1: c[2], Y1: c[3]}
	case map[string]any:
		x0, ok0 := floatOf(t["x0"])
		y0, ok1 := floatOf(t["y0"])
		x1, ok2 := floatOf(t["x1"])
		y1, ok3 := floatOf(t["y1"])
		if ok0 && ok1 && ok2 && ok3 {
			return &BoundingBox{X0: x0, Y0: y0, X1: x1, Y1: y1}
		}
	}
	return nil
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, el := range arr {
		out = append(out, PlainText(el))
	}
	return out
}

func tableRows(v any) [][]string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	rows := make([][]string, 0, len(arr))
	for _, row := range arr {
		if cells, ok := row.([]any); ok {
			rows = append(rows, stringList(cells))
			continue
		}
		if obj, ok := row.(map[string]any); ok {
			if cells, ok := obj["cells"].([]any); ok {
				rows = append(rows, stringList(cells))
				continue
			}
		}
		rows = append(rows, []string{PlainText(row)})
	}
	return rows
}
