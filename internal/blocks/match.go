package blocks

import (
	"strings"

	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// FirstMatch returns the index of the first block whose normalized text
// contains the normalized query, or -1. A second pass compares with all
// whitespace removed, which catches OCR output that spaces CJK text out
// character by character.
func FirstMatch(texts []string, query string) int {
	q := textnorm.NormalizeForSearch(query)
	if q == "" {
		return -1
	}

	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = textnorm.NormalizeForSearch(t)
		if strings.Contains(normalized[i], q) {
			return i
		}
	}

	stripped := textnorm.StripWhitespace(q)
	for i, t := range normalized {
		if strings.Contains(textnorm.StripWhitespace(t), stripped) {
			return i
		}
	}
	return -1
}
