package blocks

import (
	"sort"
	"strings"
)

// textKeys contribute their string values directly, in this order.
var textKeys = []string{"text", "title", "content", "caption", "alt"}

// structKeys hold nested table and inline structure.
var structKeys = []string{"cells", "rows", "spans"}

// metadataKeys never contribute text. Matched case-insensitively.
var metadataKeys = map[string]struct{}{
	"id":         {},
	"blockid":    {},
	"type":       {},
	"blocktype":  {},
	"language":   {},
	"pagenumber": {},
	"position":   {},
	"kind":       {},
}

// PlainText extracts the searchable text of one block node.
func PlainText(node any) string {
	var parts []string
	collect(node, &parts)
	return strings.Join(parts, " ")
}

func collect(node any, parts *[]string) {
	switch t := node.(type) {
	case string:
		if strings.TrimSpace(t) != "" {
			*parts = append(*parts, t)
		}
	case []any:
		for _, el := range t {
			collect(el, parts)
		}
	case map[string]any:
		collectObject(t, parts)
	}
}

func collectObject(obj map[string]any, parts *[]string) {
	// Code is literal: markdown inside it must not be walked.
	if code, ok := obj["code"]; ok && code != nil {
		if s, ok := code.(string); ok {
			if strings.TrimSpace(s) != "" {
				*parts = append(*parts, s)
			}
			return
		}
		collect(code, parts)
		return
	}

	handled := make(map[string]struct{}, len(textKeys)+len(structKeys))
	for _, k := range textKeys {
		handled[k] = struct{}{}
		if v, ok := obj[k]; ok {
			collect(v, parts)
		}
	}
	for _, k := range structKeys {
		handled[k] = struct{}{}
		if v, ok := obj[k]; ok {
			collect(v, parts)
		}
	}

	rest := make([]string, 0, len(obj))
	for k := range obj {
		if _, ok := handled[k]; ok {
			continue
		}
		if _, ok := metadataKeys[strings.ToLower(k)]; ok {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		collect(obj[k], parts)
	}
}
