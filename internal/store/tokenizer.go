package store

import (
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/Aman-CERP/amankb/internal/textnorm"
)

// SearchKeyTokenizerName is the name of the search key tokenizer.
const SearchKeyTokenizerName = "search_key_tokenizer"

// searchKeyTokenizerConstructor creates a search key tokenizer for Bleve.
func searchKeyTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &searchKeyTokenizer{}, nil
}

// searchKeyTokenizer splits normalized search keys on whitespace. Keys are
// already letters and digits only, so no further segmentation is done; a
// CJK run stays one token, same as the FTS5 unicode61 tokenizer.
type searchKeyTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *searchKeyTokenizer) Tokenize(input []byte) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, 16)
	pos := 1
	start := -1
	cjk := false

	emit := func(end int) {
		typ := analysis.AlphaNumeric
		if cjk {
			typ = analysis.Ideographic
		}
		result = append(result, &analysis.Token{
			Term:     input[start:end],
			Start:    start,
			End:      end,
			Position: pos,
			Type:     typ,
		})
		pos++
		start = -1
		cjk = false
	}

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				emit(i)
			}
		} else {
			if start < 0 {
				start = i
			}
			if textnorm.IsCJK(r) {
				cjk = true
			}
		}
		i += size
	}
	if start >= 0 {
		emit(len(input))
	}
	return result
}

// searchKeyOfTitle normalizes a title the same way content keys are.
func searchKeyOfTitle(title string) string {
	return textnorm.NormalizeForSearch(title)
}
